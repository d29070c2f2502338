package r3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"
)

// FileInfo describes a file for query
type FileInfo struct {
	Size     int64
	Modified time.Time
	Dir      bool
}

// CommandResult is the outcome of an external command
type CommandResult struct {
	Status int
	Output []byte
}

// Request is a pending operation the interpreter may wait on. The collector
// traces Target while the request is registered with the runtime.
type Request struct {
	Target Cell
	Done   <-chan struct{}
	Err    error
}

// Host provides the operating system services the interpreter uses. The
// default is OSHost; embedders and tests substitute their own.
type Host interface {
	Now() time.Time
	Console() io.Writer
	Args() []string
	Getenv(name string) (string, bool)
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, append bool) error
	Stat(path string) (FileInfo, error)
	ReadURL(ctx context.Context, url string) ([]byte, error)
	WriteURL(ctx context.Context, url string, data []byte) ([]byte, error)
	Run(ctx context.Context, name string, args []string, stdin []byte) (CommandResult, error)
	// Wait blocks until one of reqs completes or timeout passes. A
	// negative timeout waits without limit. It returns the completed
	// requests.
	Wait(ctx context.Context, reqs []*Request, timeout time.Duration) ([]*Request, error)
}

// OSHost implements Host on the local operating system
type OSHost struct {
	args    []string
	console io.Writer
	client  *http.Client
}

// NewOSHost returns a host writing to stdout
func NewOSHost(args []string) *OSHost {
	return &OSHost{
		args:    args,
		console: os.Stdout,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// SetConsole redirects console output
func (h *OSHost) SetConsole(w io.Writer) {
	h.console = w
}

func (h *OSHost) Now() time.Time     { return time.Now() }
func (h *OSHost) Console() io.Writer { return h.console }
func (h *OSHost) Args() []string     { return h.args }

func (h *OSHost) Getenv(name string) (string, bool) {
	return os.LookupEnv(name)
}

func (h *OSHost) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (h *OSHost) WriteFile(path string, data []byte, append bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if append {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (h *OSHost) Stat(path string) (FileInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{Size: fi.Size(), Modified: fi.ModTime(), Dir: fi.IsDir()}, nil
}

func (h *OSHost) ReadURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return h.do(req)
}

func (h *OSHost) WriteURL(ctx context.Context, url string, data []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return h.do(req)
}

func (h *OSHost) do(req *http.Request) ([]byte, error) {
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return body, fmt.Errorf("%s", resp.Status)
	}
	return body, nil
}

func (h *OSHost) Run(ctx context.Context, name string, args []string, stdin []byte) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	out, err := cmd.CombinedOutput()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return CommandResult{Status: exitErr.ExitCode(), Output: out}, nil
	}
	if err != nil {
		return CommandResult{}, err
	}
	return CommandResult{Output: out}, nil
}

func (h *OSHost) Wait(ctx context.Context, reqs []*Request, timeout time.Duration) ([]*Request, error) {
	if timeout >= 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if len(reqs) == 0 {
		<-ctx.Done()
		return nil, nil
	}
	fired := make(chan *Request, len(reqs))
	stop := make(chan struct{})
	defer close(stop)
	for _, r := range reqs {
		go func(r *Request) {
			select {
			case <-r.Done:
				fired <- r
			case <-stop:
			}
		}(r)
	}
	select {
	case r := <-fired:
		done := []*Request{r}
		for _, other := range reqs {
			if other != r && isDone(other) {
				done = append(done, other)
			}
		}
		return done, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, ctx.Err()
	}
}

func isDone(r *Request) bool {
	select {
	case <-r.Done:
		return true
	default:
		return false
	}
}

// hostPath converts a file! value to a host path. A leading slash followed
// by a drive letter maps to the drive on hosts that use them.
func hostPath(v Cell) string {
	p := seriesText(&v)
	if len(p) >= 3 && p[0] == '/' && p[2] == '/' && os.PathSeparator == '\\' {
		p = p[1:2] + ":" + p[2:]
	}
	return p
}

// cannotOpen wraps a host failure as an access error
func (rt *Runtime) cannotOpen(target Cell, err error) error {
	return rt.Errorf(ErrCannotOpen, target, rt.stringCell(err.Error()))
}

// readSource reads the contents of a file! or url! value through the host,
// subject to the security policy. A policy quit leaves out thrown.
func (rt *Runtime) readSource(out *Cell, v Cell) ([]byte, error) {
	switch v.kind {
	case KindFile:
		if thrown, err := rt.checkSecurity(out, ResFile, "read "+seriesText(&v)); thrown || err != nil {
			return nil, err
		}
		data, err := rt.host.ReadFile(hostPath(v))
		if err != nil {
			return nil, rt.cannotOpen(v, err)
		}
		return data, nil
	case KindURL:
		if thrown, err := rt.checkSecurity(out, ResNet, "read "+seriesText(&v)); thrown || err != nil {
			return nil, err
		}
		data, err := rt.host.ReadURL(context.Background(), seriesText(&v))
		if err != nil {
			return nil, rt.cannotOpen(v, err)
		}
		return data, nil
	}
	return nil, rt.Errorf(ErrInvalidArg, v)
}

// writeTarget writes data to a file! or url! value through the host
func (rt *Runtime) writeTarget(out *Cell, v Cell, data []byte, append bool) error {
	switch v.kind {
	case KindFile:
		if thrown, err := rt.checkSecurity(out, ResFile, "write "+seriesText(&v)); thrown || err != nil {
			return err
		}
		if err := rt.host.WriteFile(hostPath(v), data, append); err != nil {
			return rt.cannotOpen(v, err)
		}
		return nil
	case KindURL:
		if thrown, err := rt.checkSecurity(out, ResNet, "write "+seriesText(&v)); thrown || err != nil {
			return err
		}
		if _, err := rt.host.WriteURL(context.Background(), seriesText(&v), data); err != nil {
			return rt.cannotOpen(v, err)
		}
		return nil
	}
	return rt.Errorf(ErrInvalidArg, v)
}

// queryTarget describes a file as an object with size, date and type
// fields; a missing file gives none
func (rt *Runtime) queryTarget(out *Cell, v Cell) error {
	if v.kind != KindFile {
		return rt.Errorf(ErrCannotUse, rt.wordCell("query"), Datatype(v.kind))
	}
	if thrown, err := rt.checkSecurity(out, ResFile, "query "+seriesText(&v)); thrown || err != nil {
		return err
	}
	fi, err := rt.host.Stat(hostPath(v))
	if err != nil {
		*out = None()
		return nil
	}
	kind := "file"
	if fi.Dir {
		kind = "dir"
	}
	return rt.objectOf(out, []string{"size", "date", "type"},
		Integer(fi.Size), DateOf(fi.Modified.Truncate(time.Second)), rt.wordCell(kind))
}

// objectOf builds a managed object with the named fields
func (rt *Runtime) objectOf(out *Cell, names []string, values ...Cell) error {
	vals := rt.MakeFrame(len(names), KindObject)
	for i, name := range names {
		idx, err := rt.AppendKey(vals, rt.syms.Intern(name))
		if err != nil {
			return err
		}
		*vals.At(idx) = values[i]
	}
	manageFrame(vals)
	*out = ObjectCell(KindObject, vals)
	return nil
}

// contentCell wraps read data as binary, or string when asString is set
func (rt *Runtime) contentCell(data []byte, asString bool) Cell {
	if asString {
		return rt.stringCell(string(data))
	}
	b := rt.pool.MakeBinary(data)
	b.Manage()
	return SeriesCell(KindBinary, b, 0)
}

// writeData converts a value to the bytes written to a file or url
func (rt *Runtime) writeData(v Cell) ([]byte, error) {
	switch {
	case v.kind == KindBinary:
		return bytesFrom(&v), nil
	case v.kind == KindBlock:
		var sb strings.Builder
		for _, x := range cellsFrom(&v) {
			sb.WriteString(rt.Mold(x, false))
			sb.WriteByte('\n')
		}
		return []byte(sb.String()), nil
	}
	return []byte(rt.Form(v)), nil
}

func fileAction(rt *Runtime, c *Call, act ActionID) error {
	v := *c.Arg(1)
	out := c.Out()
	switch act {
	case ActRead:
		data, err := rt.readSource(out, v)
		if err != nil || out.IsThrown() {
			return err
		}
		*out = rt.contentCell(data, c.Refined(2))
		return nil
	case ActWrite:
		data, err := rt.writeData(*c.Arg(2))
		if err != nil {
			return err
		}
		if err := rt.writeTarget(out, v, data, c.Refined(3)); err != nil || out.IsThrown() {
			return err
		}
		*out = v
		return nil
	case ActQuery:
		return rt.queryTarget(out, v)
	case ActOpen:
		return rt.openPort(out, v, c.Refined(2))
	}
	return seriesAction(rt, c, act)
}

// Ports are objects with a fixed field layout. A port whose actor field
// holds an object handles actions through the actor's functions; other
// ports use the built-in file and http schemes.
var portFields = []string{"spec", "scheme", "target", "actor", "data", "state"}

const (
	portSpec = iota + 1
	portScheme
	portTarget
	portActor
	portData
	portState
)

// openPort creates an open port from a file!, url!, block or port spec.
// A block spec is evaluated as the port fields.
func (rt *Runtime) openPort(out *Cell, spec Cell, create bool) error {
	if spec.kind == KindPort {
		*spec.ser.At(portState) = Logic(true)
		*out = spec
		return nil
	}
	target := spec
	scheme := "file"
	actor := None()
	switch spec.kind {
	case KindURL:
		text := seriesText(&spec)
		if i := strings.Index(text, ":"); i > 0 {
			scheme = text[:i]
		}
	case KindFile:
	case KindBlock:
		var obj Cell
		body := rt.pool.CopyArray(spec.ser, spec.index, spec.ser.Len(), true, true)
		rt.PushGuard(body)
		err := rt.MakeObject(&obj, body, 0, nil, KindObject)
		rt.DropGuard(body)
		if err != nil || obj.IsThrown() {
			*out = obj
			return err
		}
		if v, ok := rt.frameValue(obj.ser, rt.syms.Intern("scheme")); ok && v.kind.IsAnyWord() {
			scheme = rt.syms.Spelling(v.sym)
		}
		if v, ok := rt.frameValue(obj.ser, rt.syms.Intern("target")); ok {
			target = v
		}
		if v, ok := rt.frameValue(obj.ser, rt.syms.Intern("actor")); ok {
			actor = v
		}
	default:
		return rt.Errorf(ErrBadMake, Datatype(KindPort), spec)
	}
	if create && target.kind == KindFile {
		if err := rt.writeTarget(out, target, nil, true); err != nil || out.IsThrown() {
			return err
		}
	}
	if err := rt.objectOf(out, portFields,
		spec, rt.wordCell(scheme), target, actor, None(), Logic(true)); err != nil {
		return err
	}
	out.kind = KindPort
	out.ser.At(0).num = uint64(KindPort)
	rt.logger.DebugCat(CatHost, "open %s port", scheme)
	return nil
}

// portActorFunc returns the actor function for an action, if the port has
// one
func (rt *Runtime) portActorFunc(port Cell, act ActionID) (Cell, bool) {
	actor := port.ser.At(portActor)
	if !actor.kind.IsAnyObject() {
		return Cell{}, false
	}
	fn, ok := rt.frameValue(actor.ser, rt.syms.Intern(actionSpecs[act].name))
	if !ok || !fn.kind.IsAnyFunction() {
		return Cell{}, false
	}
	return fn, true
}

func portAction(rt *Runtime, c *Call, act ActionID) error {
	port := *c.Arg(1)
	out := c.Out()
	if fn, ok := rt.portActorFunc(port, act); ok {
		// Same parameter shape: run it in place of the action
		if fn.ser.Len() == len(c.args) {
			c.Redo(fn)
			return nil
		}
		args := []Cell{port}
		if c.Argc() > 1 && fn.ser.Len() > 2 {
			args = append(args, *c.Arg(2))
		}
		_, err := rt.invoke(out, fn, SymNone, nil, 0, rt.valueArgs(args))
		return err
	}

	target := *port.ser.At(portTarget)
	switch act {
	case ActOpen:
		*port.ser.At(portState) = Logic(true)
		*out = port
		return nil
	case ActClose:
		*port.ser.At(portState) = Logic(false)
		*out = port
		return nil
	case ActRead:
		data, err := rt.readSource(out, target)
		if err != nil || out.IsThrown() {
			return err
		}
		*out = rt.contentCell(data, c.Refined(2))
		*port.ser.At(portData) = *out
		return nil
	case ActWrite, ActAppend, ActInsert:
		data, err := rt.writeData(*c.Arg(2))
		if err != nil {
			return err
		}
		appending := act != ActWrite || c.Refined(3)
		if err := rt.writeTarget(out, target, data, appending); err != nil || out.IsThrown() {
			return err
		}
		*out = port
		return nil
	case ActQuery:
		return rt.queryTarget(out, target)
	case ActLength:
		data := port.ser.At(portData)
		if data.kind.IsSeries() {
			*out = Integer(int64(data.ser.Len() - data.index))
		} else {
			*out = Integer(0)
		}
		return nil
	}
	return rt.cannotUse(act, KindPort)
}

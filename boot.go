package r3

import (
	"bytes"
	"compress/zlib"
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// The boot script ships compressed: a 4-byte little-endian length of the
// source followed by its zlib stream. cmd/mkboot writes it from base.r.
//
//go:embed boot/base.rz
var bootBlob []byte

// PackBoot compresses boot source into the embedded format
func PackBoot(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(src)))
	buf.Write(n[:])
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(src); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnpackBoot decompresses a packed boot script and checks its length
func UnpackBoot(blob []byte) ([]byte, error) {
	if len(blob) < 4 {
		return nil, errors.New("boot blob too short")
	}
	size := binary.LittleEndian.Uint32(blob)
	zr, err := zlib.NewReader(bytes.NewReader(blob[4:]))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	src, err := io.ReadAll(io.LimitReader(zr, int64(size)+1))
	if err != nil {
		return nil, err
	}
	if len(src) != int(size) {
		return nil, fmt.Errorf("boot source is %d bytes, header says %d", len(src), size)
	}
	return src, nil
}

// boot runs the embedded base script
func (rt *Runtime) boot() error {
	src, err := UnpackBoot(bootBlob)
	if err != nil {
		return rt.Errorf(ErrBadBoot, rt.stringCell(err.Error()))
	}
	return rt.runBoot(string(src))
}

// runBoot evaluates boot source into lib. Halts cannot interrupt it; an
// error, an escaping throw or a result other than unset fails the boot.
func (rt *Runtime) runBoot(src string) error {
	block, err := rt.Scan(src, "boot")
	if err != nil {
		return rt.Errorf(ErrBadBoot, rt.stringCell(err.Error()))
	}
	rt.PushGuard(block)
	defer rt.DropGuard(block)
	if err := rt.internTo(block, rt.lib, nil); err != nil {
		return rt.Errorf(ErrBadBoot, rt.stringCell(err.Error()))
	}

	var out Cell
	caught, err := rt.TrapUnhaltable(func() error {
		return rt.DoBlock(&out, block, 0)
	})
	switch {
	case err != nil:
		return err
	case caught != nil:
		return rt.Errorf(ErrBadBoot, rt.stringCell(caught.Message()))
	case out.IsThrown():
		name := rt.catchThrown(&out)
		return rt.Errorf(ErrBadBoot, rt.stringCell("uncaught throw "+rt.Mold(name, false)))
	case out.kind != KindUnset:
		return rt.Errorf(ErrBadBoot, rt.stringCell("boot ended with "+rt.Mold(out, false)))
	}
	rt.logger.DebugCat(CatBoot, "boot done: %d lib words", rt.lib.Len()-1)
	return nil
}

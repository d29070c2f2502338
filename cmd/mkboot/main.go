// Command mkboot packs the boot script into the compressed form embedded by
// the runtime.
package main

import (
	"flag"
	"fmt"
	"os"

	r3 "github.com/codebybrett/r3-scripts-sub000"
)

func main() {
	in := flag.String("in", "boot/base.r", "Boot source")
	out := flag.String("out", "boot/base.rz", "Packed output")
	flag.Parse()

	src, err := os.ReadFile(*in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkboot: %v\n", err)
		os.Exit(1)
	}
	cfg := r3.DefaultConfig()
	cfg.SkipBoot = true
	rt, err := r3.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkboot: %v\n", err)
		os.Exit(1)
	}
	// Refuse source that does not scan
	if _, err := rt.Scan(string(src), *in); err != nil {
		fmt.Fprintf(os.Stderr, "mkboot: %v\n", err)
		os.Exit(1)
	}
	packed, err := r3.PackBoot(src)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkboot: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, packed, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "mkboot: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("packed %d bytes into %d\n", len(src), len(packed))
}

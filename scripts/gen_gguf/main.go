package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/23skdu/longbow-bitnet/internal/gguf"
)

// Writes a metadata-only GGUF file, enough for the model handle to open.
func main() {
	out := flag.String("o", "test.gguf", "Output path")
	arch := flag.String("arch", "bitnet", "general.architecture")
	name := flag.String("name", "bitnet-b1.58-synthetic", "general.name")
	ctx := flag.Uint("ctx", 4096, "<arch>.context_length")
	flag.Parse()

	kvs := []gguf.KV{
		{Key: "general.architecture", Value: *arch},
		{Key: "general.name", Value: *name},
		{Key: *arch + ".context_length", Value: uint32(*ctx)},
		{Key: "general.file_type", Value: uint32(0)},
	}
	if err := gguf.WriteFile(*out, kvs); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s (%d keys)\n", *out, len(kvs))
}

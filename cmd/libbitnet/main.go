// Command libbitnet builds the C shared library host applications load:
//
//	go build -buildmode=c-shared -o libbitnet.so ./cmd/libbitnet
//
// Every exported call goes through bridge.Default, so the model is
// constructed once per process no matter how many host threads call in.
// Configuration comes from $BITNET_CONFIG and BITNET_* variables.
package main

/*
#include <stdlib.h>
#include <string.h>
*/
import "C"

import (
	"context"
	"unsafe"

	"github.com/23skdu/longbow-bitnet/internal/bridge"
	"github.com/23skdu/longbow-bitnet/internal/logger"
)

// bitnet_generate returns a newly allocated response for prompt, or NULL
// on any failure. Release the result with bitnet_free.
//
//export bitnet_generate
func bitnet_generate(prompt *C.char) *C.char {
	if prompt == nil {
		logger.Log.Warn("bitnet_generate called with NULL prompt")
		return nil
	}
	input := C.GoBytes(unsafe.Pointer(prompt), C.int(C.strlen(prompt)))

	out, err := bridge.Default().Respond(context.Background(), input)
	if err != nil {
		logger.Log.Error("bitnet_generate failed", "error", err)
		return nil
	}
	return C.CString(out)
}

//export bitnet_free
func bitnet_free(s *C.char) {
	if s != nil {
		C.free(unsafe.Pointer(s))
	}
}

// bitnet_loaded reports 1 once the model has been constructed.
//
//export bitnet_loaded
func bitnet_loaded() C.int {
	if bridge.Default().Loaded() {
		return 1
	}
	return 0
}

func main() {}

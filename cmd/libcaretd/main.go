// Command libcaretd builds the caret engine as a C shared library. Hosts
// own engines through opaque handles, pass events as fixed-layout records
// or JSON, and release every buffer they are handed exactly once.
//
//	go build -buildmode=c-shared -o libcaretd.so ./cmd/libcaretd
//
// The generated libcaretd.h declares the exported functions.
package main

func main() {}

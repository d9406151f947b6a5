// +build !dig

package main

func main() {
	startManual()
}

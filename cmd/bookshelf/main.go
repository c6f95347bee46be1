// Command bookshelf generates novels from a short concept.
package main

func main() {
	Execute()
}

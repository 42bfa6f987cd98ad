// Command adr distributes batch jobs over a pool of workers through a Redis
// queue and a MinIO object store.
package main

func main() {
	Execute()
}

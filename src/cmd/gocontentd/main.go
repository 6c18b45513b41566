// Command gocontentd runs the content directory core as a standalone
// process: load configuration, build the ContentManager, drive it until an
// OS termination signal arrives.
package main

func main() {
	execute()
}

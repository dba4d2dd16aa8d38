package main

import (
	"encoding/json"
	"fmt"
	"os"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "viewers":
			getCmd("viewers", "/admin/v1/viewers", os.Args[2:])
			return
		case "feed":
			getCmd("feed", "/admin/v1/feed/status", os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: admin db [ticks|events|viewer|tuning] | viewers | feed")
	os.Exit(2)
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}

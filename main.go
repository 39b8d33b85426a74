/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
// @title           GenQueue API
// @version         1.0
// @description     Content generation job queue: phased pipeline, progress tracking and live status.

// @host      localhost:8080
// @BasePath  /api/v1
package main

import "github.com/mautops/genqueue/cmd"

func main() {
	cmd.Execute()
}

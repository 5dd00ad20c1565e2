// Package main 是 coach 命令行客户端的入口点
package main

import "career-coach/internal/cli"

func main() {
	cli.Execute()
}

package main

import "github.com/perceptualart/torbobase-sub002/cmd"

func main() {
	cmd.Execute()
}

//go:build !windows

package main

func hideConsole() {}

func showConsole() {}

package main

import "github.com/JakeFAU/review-notifier/cmd"

func main() {
	cmd.Execute()
}

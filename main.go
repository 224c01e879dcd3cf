package main

import (
	"fmt"
	"os"

	"github.com/deskhub/app/cmd"
	_ "github.com/deskhub/docs"
)

// @title deskhub API
// @version 1.0
// @description Channel session control and real-time ticket events.

// @host  localhost:8000
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	if err := cmd.StartApp(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

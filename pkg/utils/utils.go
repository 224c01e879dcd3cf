package utils

import (
	"github.com/joho/godotenv"
)

// LoadEnv reads a .env file into the process environment. It reports false
// when there is none; variables can then come from Docker Compose or the
// system.
func LoadEnv() bool {
	return godotenv.Load() == nil
}

package main

import (
	"github.com/kralicky/voicebox/pkg/cli/voicectl"

	_ "github.com/kralicky/voicebox/pkg/logger"
)

func main() {
	voicectl.Execute()
}

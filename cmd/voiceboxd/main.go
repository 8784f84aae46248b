package main

import (
	"github.com/kralicky/voicebox/pkg/cli/voiceboxd"

	_ "github.com/kralicky/voicebox/pkg/logger"
)

func main() {
	voiceboxd.Execute()
}

//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"

	_ "github.com/kralicky/voicebox/pkg/logger"
)

var Default = Build

const certDir = "examples/certs"

// Builds voiceboxd and voicectl into bin/
func Build() error {
	return sh.RunV(mg.GoCmd(), "build", fmt.Sprintf("-v=%t", mg.Verbose()), "-o", "bin/", "./cmd/...")
}

// Runs all tests with the race detector
func Test() error {
	return sh.RunV(mg.GoCmd(), "test", "-race", "-count=1", "./...")
}

// Runs voiceboxd with the built-in categories and an embedded NATS server
func Run() error {
	mg.Deps(Build)
	return sh.RunV(filepath.Join("bin", "voiceboxd"), "serve", "--embedded-nats", "--log-level=debug")
}

type Example mg.Namespace

type leaf struct {
	subject string
	file    string
	sans    []string
}

// Generates an Ed25519 CA plus server and client certificates under examples/certs.
// Requires the step CLI.
func (Example) Certs() error {
	if err := os.RemoveAll(certDir); err != nil {
		return err
	}
	if err := os.MkdirAll(certDir, 0o755); err != nil {
		return err
	}
	caCert, caKey := filepath.Join(certDir, "ca.crt"), filepath.Join(certDir, "ca.key")
	if err := step("Voicebox Example CA", caCert, caKey, "--profile=root-ca"); err != nil {
		return err
	}
	leaves := []leaf{
		{subject: "voiceboxd", file: "server", sans: []string{"localhost", "127.0.0.1"}},
		{subject: "admin", file: "admin"},
		{subject: "synthesis", file: "synthesis"},
		{subject: "trainer", file: "trainer"},
	}
	for _, l := range leaves {
		args := []string{"--profile=leaf", "--ca=" + caCert, "--ca-key=" + caKey}
		for _, san := range l.sans {
			args = append(args, "--san="+san)
		}
		crt, key := filepath.Join(certDir, l.file+".crt"), filepath.Join(certDir, l.file+".key")
		if err := step(l.subject, crt, key, args...); err != nil {
			return err
		}
	}
	return nil
}

func step(subject, crt, key string, extra ...string) error {
	args := append([]string{"certificate", "create", subject, crt, key}, extra...)
	args = append(args, "-f", "--kty=OKP", "--curve=Ed25519", "--no-password", "--insecure")
	return sh.RunV("step", args...)
}

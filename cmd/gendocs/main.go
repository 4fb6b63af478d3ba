package main

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra/doc"
	"github.com/yoanbernabeu/vpndeploy/internal/cmd"
)

func main() {
	outputDir := "./docs/commands"
	if len(os.Args) > 1 {
		outputDir = os.Args[1]
	}
	manDir := filepath.Join(outputDir, "man")

	if err := os.MkdirAll(manDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	// Front matter with the command path as title
	filePrepender := func(filename string) string {
		name := filepath.Base(filename)
		name = strings.TrimSuffix(name, filepath.Ext(name))
		title := strings.ReplaceAll(name, "_", " ")
		return `---
title: "` + title + `"
---

`
	}

	linkHandler := func(name string) string {
		base := strings.TrimSuffix(name, filepath.Ext(name))
		return "/vpndeploy/commands/" + strings.ToLower(base) + "/"
	}

	rootCmd := cmd.GetRootCmd()
	rootCmd.DisableAutoGenTag = true

	if err := doc.GenMarkdownTreeCustom(rootCmd, outputDir, filePrepender, linkHandler); err != nil {
		log.Fatalf("Failed to generate documentation: %v", err)
	}

	header := &doc.GenManHeader{
		Title:   "VPNDEPLOY",
		Section: "1",
		Source:  "vpndeploy " + cmd.Version,
	}
	if err := doc.GenManTree(rootCmd, header, manDir); err != nil {
		log.Fatalf("Failed to generate man pages: %v", err)
	}

	log.Printf("Documentation generated in %s", outputDir)
}

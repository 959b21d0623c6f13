package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/skalden/annobox"
	"github.com/skalden/annobox/internal/config"
	"github.com/skalden/annobox/internal/imgio"
	"github.com/skalden/annobox/internal/logging"
	"github.com/skalden/annobox/pkg/detector"
	"github.com/skalden/annobox/pkg/detserver"
	"github.com/skalden/annobox/pkg/export"
	"github.com/skalden/annobox/pkg/ollama"
)

func main() {
	var imagesDir, classList, configPath, importPath string
	var backend, url, model string
	var out, format string
	var testSplit float64
	var seed int64
	var onlyReady, readyAll, devLog bool

	flag.StringVar(&imagesDir, "images", "", "directory scanned recursively for images to annotate")
	flag.StringVar(&classList, "classes", "", "comma-separated class names (overrides config)")
	flag.StringVar(&configPath, "config", "", "config file path (default: "+config.GetConfigPath()+")")
	flag.StringVar(&importPath, "import", "", "previously exported JSON file to import images from")

	flag.StringVar(&backend, "backend", "", "detection backend: none|ollama|detserver (overrides config)")
	flag.StringVar(&url, "url", "", "detection server URL (overrides config)")
	flag.StringVar(&model, "model", "", "model name for the ollama backend (overrides config)")

	flag.StringVar(&out, "out", "", "export target: file for csv/json, directory for yolo")
	flag.StringVar(&format, "format", "", "export format: csv|json|yolo (overrides config)")
	flag.Float64Var(&testSplit, "test-split", 0, "fraction of images assigned to the test split")
	flag.Int64Var(&seed, "seed", export.DefaultSeed, "shuffle seed for the train/test split")
	flag.BoolVar(&onlyReady, "ready-only", false, "export only images marked as ready")
	flag.BoolVar(&readyAll, "ready-all", false, "mark every image as ready before export")
	flag.BoolVar(&devLog, "dev-log", false, "console-friendly log output")

	flag.Parse()
	if imagesDir == "" && importPath == "" {
		log.Fatalf("usage: %s -images dir [-classes a,b,c] [-backend ollama|detserver] [-out dataset.json] [-format csv|json|yolo]", filepath.Base(os.Args[0]))
	}

	if devLog {
		if err := logging.InitDevelopment(); err != nil {
			log.Fatal(err)
		}
	} else {
		if err := logging.InitProduction(); err != nil {
			log.Fatal(err)
		}
	}
	defer logging.Sync()

	cfg := loadConfig(configPath)
	if classList != "" {
		cfg.Classes = strings.Split(classList, ",")
	}
	if backend != "" {
		cfg.Detector.Backend = backend
	}
	if url != "" {
		cfg.Detector.URL = url
	}
	if model != "" {
		cfg.Detector.Model = model
	}
	if format != "" {
		cfg.Export.Format = format
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	detModel := buildDetector(cfg)

	ctx := context.Background()
	ann, err := annobox.New(ctx, cfg.Classes, detModel)
	if err != nil {
		log.Fatal(err)
	}

	if importPath != "" {
		ids, err := ann.ImportJSON(ctx, importPath)
		if err != nil {
			log.Fatalf("Import failed: %v", err)
		}
		fmt.Printf("Imported %d images from %s\n", len(ids), importPath)
	}

	if imagesDir != "" {
		files, err := imgio.ListImageFiles(imagesDir)
		if err != nil {
			log.Fatalf("Failed to scan %s: %v", imagesDir, err)
		}
		if len(files) == 0 {
			log.Fatalf("No images found in %s", imagesDir)
		}
		if _, err := ann.AddImages(ctx, files...); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Added %d images from %s\n", len(files), imagesDir)
	}

	// Visit every image once so each gets its auto-annotation pass.
	for _, img := range ann.Images().Images() {
		if err := ann.JumpTo(ctx, img.ID()); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%-40s %d boxes\n", img.Name(), img.Len())
		if readyAll {
			if err := ann.MarkReady(); err != nil {
				log.Fatal(err)
			}
		}
	}

	if out == "" {
		fmt.Println("No -out given, skipping export")
		return
	}

	if err := ann.Export(out, export.Format(cfg.Export.Format), onlyReady, testSplit, seed); err != nil {
		log.Fatalf("Export failed: %v", err)
	}
	fmt.Printf("Exported %s dataset to %s\n", cfg.Export.Format, out)
}

// loadConfig reads the config file, falling back to defaults when none
// exists at the default location.
func loadConfig(path string) *config.Config {
	if path == "" {
		path = config.GetConfigPath()
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default()
		}
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// buildDetector wires the configured detection backend. The "none" backend
// returns nil, which disables auto-annotation entirely.
func buildDetector(cfg *config.Config) detector.Model {
	switch cfg.Detector.Backend {
	case "none":
		return nil
	case "mock":
		// Single centered box with the first class, for dry runs.
		return detector.NewMock(
			[][4]float64{{160, 160, 480, 480}},
			[]string{cfg.Classes[0]},
			nil, 640, 640,
		)
	case "ollama":
		m, err := ollama.New(cfg.Detector.URL, cfg.Detector.Model, cfg.Classes)
		if err != nil {
			log.Fatalf("Failed to create ollama backend: %v", err)
		}
		return m
	case "detserver":
		return detserver.New(cfg.Detector.URL, cfg.Classes)
	default:
		log.Fatalf("Unknown backend: %s (use 'none', 'mock', 'ollama' or 'detserver')", cfg.Detector.Backend)
		return nil
	}
}

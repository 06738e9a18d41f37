// Command segprep prepares segmentation data and inspects stored validation
// results.
//
//	segprep patches -img DIR -gt DIR -axis N -patch 64x64 -max 10 -out-images P -out-masks P [-seed S]
//	segprep summary [-backend file|sqlite|postgres] [-dsn DSN] [-dir DIR] -name metrics_<exp> [-values NAME] [-json]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/tsawler/go-segkit/results"
	"github.com/tsawler/go-segkit/vision/dataset"
	"github.com/tsawler/go-segkit/vision/patches"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: segprep <patches|summary> [flags]")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	var err error
	switch os.Args[1] {
	case "patches":
		err = runPatches(os.Args[2:], os.Stdout)
	case "summary":
		err = runSummary(context.Background(), os.Args[2:], os.Stdout)
	default:
		usage()
	}
	if err != nil {
		log.Fatalf("segprep %s: %v", os.Args[1], err)
	}
}

// parsePatchSize parses "HxW" or a single number for square patches
func parsePatchSize(s string) (h, w int, err error) {
	hs, ws, found := strings.Cut(strings.ToLower(s), "x")
	if !found {
		ws = hs
	}
	if h, err = strconv.Atoi(hs); err != nil {
		return 0, 0, fmt.Errorf("invalid patch size %q", s)
	}
	if w, err = strconv.Atoi(ws); err != nil {
		return 0, 0, fmt.Errorf("invalid patch size %q", s)
	}
	if h <= 0 || w <= 0 {
		return 0, 0, fmt.Errorf("patch size must be positive, got %q", s)
	}
	return h, w, nil
}

func runPatches(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("patches", flag.ContinueOnError)
	imgRoot := fs.String("img", "", "directory of image volumes (.npy)")
	gtRoot := fs.String("gt", "", "directory of mask volumes (.npy)")
	axis := fs.Int("axis", 2, "slice axis (0, 1 or 2)")
	patchSize := fs.String("patch", "64x64", "patch size HxW")
	maxPatches := fs.Int("max", 10, "patches per slice")
	outImages := fs.String("out-images", "images_patches", "output path for image patches, without .npy")
	outMasks := fs.String("out-masks", "masks_patches", "output path for mask patches, without .npy")
	seed := fs.Int64("seed", 0, "random seed")
	augment := fs.Bool("augment", true, "apply the default augmentation pipeline")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *imgRoot == "" || *gtRoot == "" {
		return fmt.Errorf("-img and -gt are required")
	}
	ph, pw, err := parsePatchSize(*patchSize)
	if err != nil {
		return err
	}

	var ds *dataset.VolumeDataset
	if *augment {
		ds, err = dataset.GetDataset(*imgRoot, *gtRoot, *axis, dataset.WithSeed(*seed))
	} else {
		ds, err = dataset.NewVolumeDataset(*imgRoot, *gtRoot, *axis, dataset.WithSeed(*seed))
	}
	if err != nil {
		return err
	}
	fmt.Fprint(out, ds)

	images, masks, err := patches.PatchData(ds, ph, pw, *maxPatches, *seed)
	if err != nil {
		return err
	}
	if err := patches.SavePatches(images, masks, *outImages, *outMasks); err != nil {
		return err
	}

	fmt.Fprintf(out, "wrote %d patches of %dx%d to %s.npy and %s.npy\n",
		images.Shape[0], ph, pw, *outImages, *outMasks)
	return nil
}

func runSummary(ctx context.Context, args []string, out io.Writer) error {
	env := results.ConfigFromEnv()

	fs := flag.NewFlagSet("summary", flag.ContinueOnError)
	backend := fs.String("backend", string(env.Backend), "results backend: file, sqlite or postgres")
	dsn := fs.String("dsn", env.DSN, "SQLite path or Postgres URL")
	dir := fs.String("dir", env.Dir, "results directory of the file backend")
	name := fs.String("name", "", "summary name, e.g. metrics_<experiment>")
	values := fs.String("values", "", "also describe the value sequence stored under this name")
	jsonOut := fs.Bool("json", false, "output as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" && *values == "" {
		return fmt.Errorf("-name or -values is required")
	}

	store, err := results.Open(ctx, results.Config{
		Backend:  results.Backend(*backend),
		DSN:      *dsn,
		Dir:      *dir,
		Compress: env.Compress,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	report := make(map[string]float64)
	if *name != "" {
		summary, err := store.LoadSummary(ctx, *name)
		if err != nil {
			return fmt.Errorf("load summary %s: %w", *name, err)
		}
		for k, v := range summary {
			report[k] = v
		}
	}
	if *values != "" {
		seq, err := store.LoadValues(ctx, *values)
		if err != nil {
			return fmt.Errorf("load values %s: %w", *values, err)
		}
		f64 := make([]float64, len(seq))
		for i, v := range seq {
			f64[i] = float64(v)
		}
		mean, std := stat.PopMeanStdDev(f64, nil)
		report[*values+"_count"] = float64(len(seq))
		report[*values+"_mean"] = mean
		report[*values+"_std"] = std
	}

	if *jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	keys := make([]string, 0, len(report))
	for k := range report {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "%-40s %.6f\n", k, report[k])
	}
	return nil
}

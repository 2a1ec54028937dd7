// Command genmock writes synthetic native-grid netCDF files for every
// configured dataset, laid out the way the source adapters expect them. The
// region, years and dataset versions come from the same environment as the
// ETL, so a generated tree can be processed as is.
//
// Usage:
//
//	REGION_NAME=tiny REGION_BOUNDS=-4,-2,38,40 YEAR_START=2001 YEAR_END=2002 \
//	  go run ./cmd/genmock -members 3 -pad 3
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/couchcryptid/precip-grid-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/precip-grid-etl/internal/config"
	"github.com/couchcryptid/precip-grid-etl/internal/mockdata"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output root; defaults to NATIVE_DIR")
	members := flag.Int("members", 3, "ensemble members written for DePreSys")
	pad := flag.Float64("pad", 3, "degrees of padding around the region")
	only := flag.String("datasets", "", "comma-separated subset of the configured datasets")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	dir := *out
	if dir == "" {
		dir = cfg.NativeDir
	}

	versions := cfg.DatasetVersions
	if *only != "" {
		versions = make(map[string]string)
		for _, name := range strings.Split(*only, ",") {
			name = strings.TrimSpace(name)
			v, ok := cfg.DatasetVersions[name]
			if !ok {
				return fmt.Errorf("dataset %q is not in DATASET_VERSIONS (known: %s)", name, strings.Join(mockdata.Known(), ", "))
			}
			versions[name] = v
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	written, err := mockdata.Generate(ctx, netcdf.NewStore(), mockdata.Options{
		Dir:       dir,
		Region:    cfg.Region(),
		YearStart: cfg.YearStart,
		YearEnd:   cfg.YearEnd,
		Versions:  versions,
		Members:   *members,
		Pad:       *pad,
	})
	for _, path := range written {
		log.Printf("wrote %s", path)
	}
	if err != nil {
		return err
	}

	log.Printf("total: %d files under %s", len(written), dir)
	return nil
}

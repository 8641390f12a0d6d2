// Command genarchive writes synthetic INMET yearly archives in the portal's
// publication format, for local runs with ARCHIVE_DIR and for load tests.
// Output is deterministic for a given seed.
//
// Usage:
//
//	go run ./cmd/genarchive \
//	  -out data/archives \
//	  -years 2018,2023 \
//	  -stations 5 -hours 720 -missing 0.02
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/couchcryptid/inmet-weather-etl/internal/domain"
	"github.com/couchcryptid/inmet-weather-etl/internal/inmetfile"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	outDir := flag.String("out", "", "directory to write {year}.zip archives into")
	yearsFlag := flag.String("years", "", "comma-separated years to generate")
	stations := flag.Int("stations", len(inmetfile.SampleStations), "number of sample stations per archive")
	hours := flag.Int("hours", 0, "hourly rows per station (0 for the whole year)")
	seed := flag.Uint64("seed", 1, "random seed")
	missing := flag.Float64("missing", 0, "fraction of cells written as -9999")
	corrupt := flag.Bool("corrupt", false, "add one entry that fails extraction")
	flag.Parse()

	if *outDir == "" || *yearsFlag == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -out, -years")
	}
	years, invalid := domain.ParseYears(strings.Split(*yearsFlag, ","))
	if len(invalid) > 0 {
		return fmt.Errorf("invalid years: %s", strings.Join(invalid, ", "))
	}
	if *stations < 1 || *stations > len(inmetfile.SampleStations) {
		return fmt.Errorf("-stations must be between 1 and %d", len(inmetfile.SampleStations))
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return err
	}

	for _, year := range years {
		files := inmetfile.Generate(inmetfile.GenerateOptions{
			Year:        year,
			Stations:    inmetfile.SampleStations[:*stations],
			Hours:       *hours,
			Seed:        *seed,
			MissingRate: *missing,
		})
		var extra []inmetfile.Entry
		if *corrupt {
			extra = append(extra, inmetfile.Entry{
				Name:    fmt.Sprintf("INMET_XX_XX_X999_CORRUPT_01-01-%d_A_31-12-%d.CSV", year, year),
				Content: []byte("REGIAO:;XX\n"),
				Corrupt: true,
			})
		}
		body, err := inmetfile.Archive(files, extra...)
		if err != nil {
			return fmt.Errorf("year %d: %w", year, err)
		}
		path := filepath.Join(*outDir, strconv.Itoa(year)+".zip")
		if err := os.WriteFile(path, body, 0o644); err != nil { //nolint:gosec // archives are not secret
			return err
		}

		rows := 0
		for _, f := range files {
			rows += len(f.Rows)
		}
		log.Printf("%s: %d stations, %d rows, %d bytes", path, len(files), rows, len(body))
	}
	return nil
}

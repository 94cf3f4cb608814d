package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/google/subcommands"
	_ "github.com/mattn/go-sqlite3"
	"github.com/schollz/progressbar/v3"

	"github.com/eak1mov/go-mapfile/geo"
	"github.com/eak1mov/go-mapfile/mf"
)

type exportCmd struct {
	inputPath  string
	outputPath string
	zoom       uint
}

func (c *exportCmd) Name() string     { return "export_pois" }
func (c *exportCmd) Synopsis() string { return "export all POIs to an SQLite database" }
func (c *exportCmd) Usage() string {
	return "maputils export_pois -i <path> -o <path> [-z <zoom>]\n"
}
func (c *exportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.inputPath, "i", "", "Input map file path")
	f.StringVar(&c.outputPath, "o", "", "Output SQLite file path")
	f.UintVar(&c.zoom, "z", 0, "Zoom level to query (default: maximum supported)")
}

func (c *exportCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	mapFile, err := mf.Open(c.inputPath)
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	defer mapFile.Close()

	_, zoomMax := mapFile.ZoomRange()
	zoom := byte(c.zoom)
	if c.zoom == 0 {
		zoom = zoomMax
	}

	db, err := sql.Open("sqlite3", c.outputPath)
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	defer db.Close()

	if err := c.exportPOIs(mapFile, db, zoom); err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}

	return subcommands.ExitSuccess
}

func (c *exportCmd) exportPOIs(mapFile *mf.MapFile, db *sql.DB, zoom byte) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS pois (
		lat REAL, lon REAL, name TEXT, house_number TEXT, elevation INTEGER, tags TEXT)`); err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO pois (lat, lon, name, house_number, elevation, tags) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	bound := mapFile.BoundingBox()
	fromX := geo.LongitudeToTileX(bound.Min[0], zoom)
	toX := geo.LongitudeToTileX(bound.Max[0], zoom)
	fromY := geo.LatitudeToTileY(bound.Max[1], zoom)
	toY := geo.LatitudeToTileY(bound.Min[1], zoom)

	bar := progressbar.NewOptions(int((toX-fromX+1)*(toY-fromY+1)),
		progressbar.OptionShowIts(), progressbar.OptionShowCount())

	for y := fromY; y <= toY; y++ {
		for x := fromX; x <= toX; x++ {
			result, err := mapFile.ReadPoiData(geo.Tile{X: x, Y: y, Zoom: zoom})
			if err != nil {
				return err
			}

			for _, poi := range result.POIs {
				tags := make([]string, 0, len(poi.Tags))
				for _, tag := range poi.Tags {
					tags = append(tags, tag.Key+"="+tag.Value)
				}
				if _, err := stmt.Exec(poi.Position[1], poi.Position[0],
					poi.Name, poi.HouseNumber, poi.Elevation, strings.Join(tags, ";")); err != nil {
					return err
				}
			}

			bar.Add(1)
		}
	}

	bar.Finish()
	fmt.Println()

	return tx.Commit()
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/google/subcommands"

	"github.com/eak1mov/go-mapfile/geo"
	"github.com/eak1mov/go-mapfile/mapdata"
	"github.com/eak1mov/go-mapfile/mf"
)

type queryCmd struct {
	inputPath string
	tileX     int64
	tileY     int64
	zoom      uint
	mode      string
	language  string
}

func (c *queryCmd) Name() string     { return "query" }
func (c *queryCmd) Synopsis() string { return "read POIs and ways for one tile" }
func (c *queryCmd) Usage() string {
	return "maputils query -i <path> -x <tileX> -y <tileY> -z <zoom> [-m all|pois|labels]\n"
}
func (c *queryCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.inputPath, "i", "", "Input map file path")
	f.Int64Var(&c.tileX, "x", 0, "Tile X coordinate")
	f.Int64Var(&c.tileY, "y", 0, "Tile Y coordinate")
	f.UintVar(&c.zoom, "z", 0, "Zoom level")
	f.StringVar(&c.mode, "m", "all", "Query mode (all, pois, labels)")
	f.StringVar(&c.language, "lang", "", "Preferred language")
}

func (c *queryCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	mapFile, err := mf.Open(c.inputPath, mf.WithPreferredLanguage(c.language))
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	defer mapFile.Close()

	tile := geo.Tile{X: c.tileX, Y: c.tileY, Zoom: byte(c.zoom)}
	if !mapFile.SupportsTile(tile) {
		log.Printf("tile %v/%v/%v not covered by %q", c.zoom, c.tileX, c.tileY, c.inputPath)
		return subcommands.ExitFailure
	}

	var result *mapdata.Result
	switch c.mode {
	case "all":
		result, err = mapFile.ReadMapData(tile)
	case "pois":
		result, err = mapFile.ReadPoiData(tile)
	case "labels":
		result, err = mapFile.ReadLabels(tile)
	default:
		log.Printf("invalid query mode: %q", c.mode)
		return subcommands.ExitFailure
	}
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}

	fmt.Printf("water: %v\n", result.IsWater)
	for _, poi := range result.POIs {
		fmt.Printf("poi %.6f,%.6f layer=%d name=%q tags=%v\n",
			poi.Position[1], poi.Position[0], poi.Layer, poi.Name, poi.Tags)
	}
	for _, way := range result.Ways {
		nodes := 0
		for _, block := range way.Geometry {
			nodes += len(block)
		}
		fmt.Printf("way nodes=%d layer=%d name=%q ref=%q tags=%v\n",
			nodes, way.Layer, way.Name, way.Ref, way.Tags)
	}

	return subcommands.ExitSuccess
}

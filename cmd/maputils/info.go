package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/google/subcommands"

	"github.com/eak1mov/go-mapfile/mf"
)

type infoCmd struct {
	inputPath string
}

func (c *infoCmd) Name() string     { return "info" }
func (c *infoCmd) Synopsis() string { return "print map store metadata" }
func (c *infoCmd) Usage() string {
	return "maputils info -i <path>\n"
}
func (c *infoCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.inputPath, "i", "", "Input map file path")
}

func (c *infoCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	mapFile, err := mf.Open(c.inputPath)
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	defer mapFile.Close()

	bound := mapFile.BoundingBox()
	zoomMin, zoomMax := mapFile.ZoomRange()

	fmt.Printf("bounding box: %.6f,%.6f .. %.6f,%.6f\n", bound.Min[1], bound.Min[0], bound.Max[1], bound.Max[0])
	fmt.Printf("zoom range:   %d..%d\n", zoomMin, zoomMax)
	fmt.Printf("created:      %v\n", mapFile.CreationDate())
	if position, ok := mapFile.StartPosition(); ok {
		fmt.Printf("start:        %.6f,%.6f @ %d\n", position[1], position[0], mapFile.StartZoomLevel())
	}
	if languages := mapFile.Languages(); len(languages) > 0 {
		fmt.Printf("languages:    %s\n", strings.Join(languages, ","))
	}
	if comment := mapFile.Comment(); comment != "" {
		fmt.Printf("comment:      %s\n", comment)
	}
	if createdBy := mapFile.CreatedBy(); createdBy != "" {
		fmt.Printf("created by:   %s\n", createdBy)
	}

	return subcommands.ExitSuccess
}

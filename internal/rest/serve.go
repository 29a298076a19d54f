// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mlnoga/starsim/internal/ops"
	"github.com/mlnoga/starsim/web"
)

// Serves the simulation API on the given address, e.g. ":8080"
func Serve(addr string) error {
	return NewEngine().Run(addr)
}

// Builds the gin engine with all API routes registered
func NewEngine() *gin.Engine {
	r := gin.Default()
	r.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", web.IndexHTML)
	})
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.POST("/simulate", postSimulate)
		}
	}
	return r
}

func getPing(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

type postSimulateArgs struct {
	LoadPSFs  *ops.OpLoadPSFs  `json:"loadPSFs"`
	Simulate  *ops.OpSimulate  `json:"simulate"`
	RebinCrop *ops.OpRebinCrop `json:"rebinCrop"`
	Save      *ops.OpSave      `json:"save"`
}

// Runs a simulation pipeline and streams the text log back to the caller.
// Output files are written relative to the server working directory, with
// the same path restrictions as the CLI
func postSimulate(c *gin.Context) {
	logWriter := c.Writer
	var args postSimulateArgs
	if err := c.ShouldBind(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if args.Simulate == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing simulate arguments"})
		return
	}

	logWriter.Header().Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)

	if err := printArgs(logWriter, "Arguments:\n", "\n", args); err != nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	seq := ops.NewOpSequence()
	if args.LoadPSFs != nil {
		seq.Append(args.LoadPSFs)
	}
	seq.Append(args.Simulate)
	if args.RebinCrop != nil {
		seq.Append(args.RebinCrop)
	}
	if args.Save != nil {
		seq.Append(args.Save)
	}

	ctx := ops.NewContext(logWriter)
	promises, err := seq.MakePromises(nil, ctx)
	if err == nil {
		_, err = ops.MaterializeAll(promises, ctx.MaxThreads, true)
	}
	if err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	}
	logWriter.(http.Flusher).Flush()
}

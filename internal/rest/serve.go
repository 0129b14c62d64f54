// Copyright (C) 2024 The spotfish authors
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

	"github.com/spotfish/spotfish/internal/codebook"
	"github.com/spotfish/spotfish/internal/img"
	"github.com/spotfish/spotfish/internal/ops"
	"github.com/spotfish/spotfish/internal/ops/decode"
	"github.com/spotfish/spotfish/internal/ops/pre"
	"github.com/spotfish/spotfish/internal/stats"
	"github.com/spotfish/spotfish/web"
)

func Serve(addr string) error {
	r:=gin.Default()
	r.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", web.IndexHTML)
	})
	api:=r.Group("/api")
	{
		v1:=api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.POST("/stats", postStats)
			v1.POST("/detect", postDetect)
			v1.POST("/decode", postDecode)
		}
	}
	return r.Run(addr)
}

func getPing(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m, err:=json.MarshalIndent(args, "", "  ")
	if err!=nil { return err }
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

// Switches the response to streaming plain text and returns an operator
// context logging into it
func streamingContext(c *gin.Context) *ops.Context {
	logWriter:=c.Writer
	logWriter.Header().Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)
	return ops.NewContext(logWriter, stats.LSEstimator)
}

type postStatsArgs struct {
	FilePatterns []string `json:"filePatterns"`
}

// Streams basic statistics for every image plane matching the file patterns
func postStats(c *gin.Context) {
	var args postStatsArgs
	if err:=c.ShouldBind(&args); err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	oc:=streamingContext(c)
	if err:=printArgs(oc.Log, "Arguments:\n", "\n", args); err!=nil {
		fmt.Fprintf(oc.Log, "Error printing arguments: %s\n", err.Error())
		return
	}

	seq:=ops.NewOpSequence(ops.NewOpLoadMany(args.FilePatterns))
	runSequence(seq, oc)
	c.Writer.(http.Flusher).Flush()
}

type postDetectArgs struct {
	FilePatterns []string         `json:"filePatterns"`
	WhiteTophat  *pre.OpWhiteTophat `json:"whiteTophat"`
	ClipScale    *pre.OpClipScale   `json:"clipScale"`
	Detect       *pre.OpDetect      `json:"detect"`
}

// Streams spot detections for every image plane matching the file patterns,
// after optional background removal and scaling
func postDetect(c *gin.Context) {
	var args postDetectArgs
	if err:=c.ShouldBind(&args); err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if args.Detect==nil { args.Detect=pre.NewOpDetectDefault() }

	oc:=streamingContext(c)
	if err:=printArgs(oc.Log, "Arguments:\n", "\n", args); err!=nil {
		fmt.Fprintf(oc.Log, "Error printing arguments: %s\n", err.Error())
		return
	}

	seq:=ops.NewOpSequence(ops.NewOpLoadMany(args.FilePatterns))
	if args.WhiteTophat!=nil { seq.Append(args.WhiteTophat) }
	if args.ClipScale!=nil { seq.Append(args.ClipScale) }
	seq.Append(args.Detect)
	runSequence(seq, oc)
	c.Writer.(http.Flusher).Flush()
}

type postDecodeArgs struct {
	Experiment  string             `json:"experiment"`
	FOV         string             `json:"fov"`
	WhiteTophat *pre.OpWhiteTophat `json:"whiteTophat"`
	ClipScale   *pre.OpClipScale   `json:"clipScale"`
	Detect      *pre.OpDetect      `json:"detect"`
	Decode      *decode.OpDecode   `json:"decode"`
}

// Streams the decoding of one field of view: loads the experiment, detects
// spots on the max projection and decodes them against the codebook
func postDecode(c *gin.Context) {
	var args postDecodeArgs
	if err:=c.ShouldBind(&args); err!=nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if args.WhiteTophat==nil { args.WhiteTophat=pre.NewOpWhiteTophatDefault() }
	if args.ClipScale==nil { args.ClipScale=pre.NewOpClipScaleDefault() }
	if args.Detect==nil { args.Detect=pre.NewOpDetectDefault() }
	if args.Decode==nil { args.Decode=decode.NewOpDecodeDefault() }

	oc:=streamingContext(c)
	if err:=printArgs(oc.Log, "Arguments:\n", "\n", args); err!=nil {
		fmt.Fprintf(oc.Log, "Error printing arguments: %s\n", err.Error())
		return
	}

	if err:=loadFOV(oc, args.Experiment, args.FOV); err!=nil {
		fmt.Fprintf(oc.Log, "error: %s\n", err.Error())
		return
	}

	// Preprocess the stack planes themselves so decoding measures the same
	// signal the detector sees on the projection
	if err:=ops.ApplyToStack(oc.Stack, oc, args.WhiteTophat, args.ClipScale); err!=nil {
		fmt.Fprintf(oc.Log, "error: %s\n", err.Error())
		return
	}

	projection, err:=oc.Stack.MaxProject()
	if err!=nil {
		fmt.Fprintf(oc.Log, "error: %s\n", err.Error())
		return
	}

	seq:=ops.NewOpSequence(args.Detect, args.Decode)
	in:=func() (f *img.Image, err error) { return projection, nil }
	promises, err:=seq.MakePromises([]ops.Promise{in}, oc)
	if err==nil {
		_, err=ops.MaterializeAll(promises, oc.MaxThreads, true)
	}
	if err!=nil {
		fmt.Fprintf(oc.Log, "error: %s\n", err.Error())
	}
	c.Writer.(http.Flusher).Flush()
}

// Loads the experiment manifest, its codebook and the image planes of the
// given field of view into the context
func loadFOV(oc *ops.Context, experimentFile, fov string) error {
	e, err:=img.LoadExperiment(experimentFile)
	if err!=nil { return err }
	oc.Experiment=e

	cb, err:=loadCodebook(e)
	if err!=nil { return err }
	oc.Codebook=cb

	f, err:=e.FOV(fov)
	if err!=nil { return err }

	s, err:=e.LoadStack(f, oc.Log)
	if err!=nil { return err }
	oc.Stack=s
	return nil
}

func loadCodebook(e *img.Experiment) (*codebook.Codebook, error) {
	return codebook.LoadCodebook(e.ResolvePath(e.Codebook), e.Rounds, e.Channels)
}

func runSequence(seq *ops.OpSequence, oc *ops.Context) {
	promises, err:=seq.MakePromises(nil, oc)
	if err==nil {
		_, err=ops.MaterializeAll(promises, oc.MaxThreads, true)
	}
	if err!=nil {
		fmt.Fprintf(oc.Log, "error: %s\n", err.Error())
	}
}

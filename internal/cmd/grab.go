// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gogpu/screencap"
	"github.com/gogpu/screencap/adapter/imageconv"
	"github.com/gogpu/screencap/internal/config"
)

var grabCmd = &cobra.Command{
	Use:   "grab [file]",
	Short: "Capture one frame into an image file",
	Long: `Capture one frame of the selected output and write it as an image.
The format follows the file extension (png, jpg, bmp, tiff) and falls back
to image.format. Without a file the image is written to stdout.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGrab,
}

func init() {
	grabCmd.Flags().String("format", "", "image format when the file has no known extension")
	grabCmd.Flags().Int("quality", 0, "JPEG quality (1-100)")
	rootCmd.AddCommand(grabCmd)
}

func runGrab(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if f, _ := cmd.Flags().GetString("format"); f != "" {
		cfg.Image.Format = f
	}
	if q, _ := cmd.Flags().GetInt("quality"); q != 0 {
		cfg.Image.Quality = q
	}

	path := ""
	if len(args) == 1 {
		path = args[0]
	}
	format, err := cfg.Image.FormatFor(path)
	if err != nil {
		return err
	}

	e, err := openEnv(cfg)
	if err != nil {
		return err
	}
	defer e.close()

	c, err := e.capture()
	if err != nil {
		return err
	}
	defer c.Close()

	data, err := screencap.WaitConvert(c, imageconv.Encoder{Format: format, Quality: cfg.Image.Quality}, cfg.Capture.Timeout)
	if err != nil {
		return fmt.Errorf("grab: %w", err)
	}

	if path == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	info, _ := c.Output()
	fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%s, %dx%d, %d bytes)\n", path, format, info.Width, info.Height, len(data))
	return nil
}

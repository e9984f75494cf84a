package main

/*
image-rider reads floppy disk images (Commodore 1541 D64, Apple II DSK/DO/PO
and 2MG, Apple II NIB nibble dumps and Atari ST Pasti STX), reports their
track and sector geometry with per sector checksum status, and extracts
sectors in logical order.
*/

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jgerrish/image-rider/disk"
	"github.com/jgerrish/image-rider/loggy"
	"github.com/kisom/goutils/die"
	"github.com/spf13/cobra"
)

func openImage(cfg Config, filename string) (*disk.DiskImage, error) {
	raw, err := loadImage(filename)
	if err != nil {
		return nil, err
	}
	opts, err := cfg.Options(0)
	if err != nil {
		return nil, err
	}
	return cfg.decode(raw, opts)
}

func readLines(source string) ([]string, error) {
	var data []byte
	var err error
	if source == "stdin" || source == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		return nil, err
	}
	return strings.Split(string(data), "\n"), nil
}

func identifyFiles(cfg Config, w io.Writer, files []string, showAttempts bool) int {
	failed := 0
	for _, f := range files {
		raw, err := loadImage(f)
		if err != nil {
			fmt.Fprintf(w, "%s: %s\n", f, err)
			failed++
			continue
		}
		opts, err := cfg.Options(0)
		if err != nil {
			fmt.Fprintf(w, "%s: %s\n", f, err)
			failed++
			continue
		}
		img, attempts, err := disk.IdentifyAttempts(raw, opts)
		if err != nil {
			fmt.Fprintf(w, "%s: %s\n", f, err)
			failed++
		} else {
			fmt.Fprintln(w, identifyLine(newDiskRecord(f, img)))
		}
		if showAttempts {
			for _, a := range attempts {
				fmt.Fprintf(w, "  %-4s %s", a.Format, a.State)
				if a.Err != nil {
					fmt.Fprintf(w, ": %s", a.Err)
				}
				fmt.Fprintln(w)
			}
		}
	}
	return failed
}

func newRootCommand() *cobra.Command {

	cfg := defaultConfig()
	die.If(cfg.loadEnv(os.Getenv))

	root := &cobra.Command{
		Use:           "image-rider",
		Short:         "Inspect and extract D64, DSK, NIB and STX disk images",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if cfg.Workers < 1 {
				return fmt.Errorf("--workers must be at least 1")
			}
			if _, err := disk.ParseSectorOrder(cfg.Order); err != nil {
				return err
			}
			cfg.apply()
			shellConfig = cfg
			return nil
		},
	}
	cfg.bindFlags(root.PersistentFlags())

	var showAttempts bool
	identifyCmd := &cobra.Command{
		Use:   "identify <image>...",
		Short: "Name the format of each image",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if n := identifyFiles(cfg, c.OutOrStdout(), args, showAttempts); n > 0 {
				return fmt.Errorf("%d of %d images not identified", n, len(args))
			}
			return nil
		},
	}
	identifyCmd.Flags().BoolVar(&showAttempts, "attempts", false, "show what every decoder made of the input")

	var asJSON bool
	infoCmd := &cobra.Command{
		Use:   "info <image>",
		Short: "Show geometry, metadata, regions and defects",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			img, err := openImage(cfg, args[0])
			if err != nil {
				return err
			}
			d := newDiskRecord(args[0], img)
			if asJSON {
				return writeInfoJSON(c.OutOrStdout(), d)
			}
			writeInfo(c.OutOrStdout(), d)
			return nil
		},
	}
	infoCmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")

	var extractSel selectionFlags
	var output string
	var force bool
	extractCmd := &cobra.Command{
		Use:   "extract <image>",
		Short: "Write the selected sectors in logical order",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			sel, err := extractSel.selection()
			if err != nil {
				return err
			}
			if output != "-" && exists(output) && !force {
				return fmt.Errorf("%s exists, use --force to overwrite", output)
			}
			img, err := openImage(cfg, args[0])
			if err != nil {
				return err
			}
			data, err := disk.Extract(img, sel)
			if err != nil {
				return err
			}
			loggy.Get(0).Logf("Extracted %d bytes (%s) from %s", len(data), sel, args[0])
			return saveImage(output, data)
		},
	}
	extractSel.bind(extractCmd.Flags())
	extractCmd.Flags().StringVarP(&output, "output", "o", "-", "output file, - for stdout, .zst to compress")
	extractCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing output file")

	var sumSel selectionFlags
	var algo string
	sumCmd := &cobra.Command{
		Use:   "sum <image>",
		Short: "Checksum the selected sectors",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			sel, err := sumSel.selection()
			if err != nil {
				return err
			}
			img, err := openImage(cfg, args[0])
			if err != nil {
				return err
			}
			data, err := disk.Extract(img, sel)
			if err != nil {
				return err
			}
			s, err := checksum(algo, data)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "%s  %s (%s, %d bytes)\n", s, args[0], sel, len(data))
			return nil
		},
	}
	sumSel.bind(sumCmd.Flags())
	sumCmd.Flags().StringVar(&algo, "algo", "sha256", "xor|add|crc16|sha256")

	var scanJSON bool
	var overlap float64
	scanCmd := &cobra.Command{
		Use:   "scan <dir>",
		Short: "Decode every image under a directory and report duplicates",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if overlap < 0 || overlap > 1 {
				return fmt.Errorf("--overlap is a fraction between 0 and 1")
			}
			start := time.Now()
			s := newScanner(cfg)
			if err := s.walk(args[0], os.Stderr); err != nil {
				return err
			}
			if scanJSON {
				for _, d := range s.results {
					if err := writeInfoJSON(c.OutOrStdout(), d); err != nil {
						return err
					}
				}
				return nil
			}
			s.report(c.OutOrStdout(), time.Since(start))
			if overlap > 0 {
				overlapReport(c.OutOrStdout(), overlap, CollectSectorOverlapsAboveThreshold(overlap, s.results, cfg.Workers))
			}
			return nil
		},
	}
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "print one JSON record per image")
	scanCmd.Flags().Float64Var(&overlap, "overlap", 0, "also report image pairs sharing at least this fraction of sector content")

	var batch string
	shellCmd := &cobra.Command{
		Use:   "shell [image]",
		Short: "Interactive mode",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var v *shellVolume
			if len(args) > 0 {
				var err error
				fmt.Printf("Trying to load %s\n", args[0])
				if v, err = openVolume(args[0]); err != nil {
					return err
				}
			}
			if batch != "" {
				if v != nil {
					slot, err := mountVolume(v)
					if err != nil {
						return err
					}
					commandTarget = slot
				}
				lines, err := readLines(batch)
				if err != nil {
					return err
				}
				return shellBatch(lines)
			}
			return shellDo(v)
		},
	}
	shellCmd.Flags().StringVar(&batch, "batch", "", "run commands from a file (or stdin) and exit")

	mapCmd := &cobra.Command{
		Use:   "map <image>",
		Short: "Full screen track and sector status map",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			img, err := openImage(cfg, args[0])
			if err != nil {
				return err
			}
			return showTrackMap(args[0], img)
		},
	}

	var fuseDebug bool
	mountCmd := &cobra.Command{
		Use:   "mount <image> <mountpoint>",
		Short: "Mount the sectors and regions of an image read-only",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			img, err := openImage(cfg, args[0])
			if err != nil {
				return err
			}
			return mountImage(args[0], img, args[1], fuseDebug)
		},
	}
	mountCmd.Flags().BoolVar(&fuseDebug, "debug", false, "log FUSE traffic")

	var listen string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve identify and extract over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return serve(cfg, listen)
		},
	}
	serveCmd.Flags().StringVar(&listen, "listen", "127.0.0.1:8064", "address to listen on")

	root.AddCommand(identifyCmd, infoCmd, extractCmd, sumCmd, scanCmd, shellCmd, mapCmd, mountCmd, serveCmd)
	return root
}

func main() {
	defer loggy.CloseAll()

	err := newRootCommand().Execute()
	if err != nil {
		loggy.CloseAll()
	}
	die.If(err)
}

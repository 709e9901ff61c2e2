package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cryogrind/go-mlp/capture"
	"github.com/cryogrind/go-mlp/mlp"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <file>",
	Short: "Decode a capture file in human-readable form",
	Long: `Read a CBOR capture written by the record command and print every frame
with its capture timestamp and direction.

Records that do not decode as a single valid frame are shown raw.`,
	Args: cobra.ExactArgs(1),
	RunE: runDump,
}

func init() {
	rootCmd.AddCommand(dumpCmd)
}

func runDump(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	r := capture.NewReader(bufio.NewReader(f))
	records := 0
	bad := 0

	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("record %d: %w", records+1, err)
		}
		records++

		ts := rec.Time().Format("15:04:05.000")

		frame, err := mlp.DecodeFrame(rec.Raw)
		if err != nil {
			bad++
			fmt.Printf("[%s] %s raw=0x%X (%v)\n", ts, rec.Dir, rec.Raw, err)
			continue
		}

		fmt.Printf("[%s] %s %s\n", ts, rec.Dir, formatFrame(frame))
	}

	fmt.Printf("\n%d records", records)
	if bad > 0 {
		fmt.Printf(", %d not decodable as a single frame", bad)
	}
	fmt.Println()

	return nil
}

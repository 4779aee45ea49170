package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/OdyseeTeam/blockjson/blockjson"
	"github.com/OdyseeTeam/blockjson/chain"
	"github.com/OdyseeTeam/blockjson/server"

	"github.com/cockroachdb/errors"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	debug      bool
	memProfile bool
	profiler   interface{ Stop() }
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "blockjson",
		Short:         "convert blocks between wire format and block explorer json",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug {
				logrus.SetLevel(logrus.DebugLevel)
			}
			if memProfile {
				profiler = profile.Start(profile.MemProfile, profile.ProfilePath("."))
			}
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if profiler != nil {
				profiler.Stop()
			}
		},
	}
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&memProfile, "memprofile", false, "write a memory profile to the current directory")

	rootCmd.AddCommand(decodeCmd(), encodeCmd(), dumpCmd(), serveCmd())

	if err := rootCmd.Execute(); err != nil {
		logrus.Fatalf("%+v", err)
	}
}

func decodeCmd() *cobra.Command {
	var hashOnly bool
	cmd := &cobra.Command{
		Use:   "decode [file.json]",
		Short: "read a json block and print its wire encoding as hex",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args)
			if err != nil {
				return err
			}

			raw, err := blockjson.BlockBytesFromJSON(data)
			if err != nil {
				return err
			}
			block, err := blockjson.FromWire(raw)
			if err != nil {
				return err
			}
			logrus.Debugf("block %s: %d bytes, %d transactions", block.Hash(), len(raw), len(block.Transactions))

			if hashOnly {
				fmt.Println(block.Hash())
				return nil
			}
			fmt.Println(hex.EncodeToString(raw))
			return nil
		},
	}
	cmd.Flags().BoolVar(&hashOnly, "hash", false, "print the block hash instead of the bytes")
	return cmd
}

func encodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encode [file.hex]",
		Short: "read a hex encoded block and print it as json",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args)
			if err != nil {
				return err
			}

			raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
			if err != nil {
				return errors.Wrap(err, "input is not hex")
			}
			block, err := blockjson.FromWire(raw)
			if err != nil {
				return err
			}

			doc, err := blockjson.ToJSON(block)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return errors.WithStack(err)
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func dumpCmd() *cobra.Command {
	var (
		config   chain.Config
		magicHex string
	)
	cmd := &cobra.Command{
		Use:   "dump <blocksdir>",
		Short: "print every block in a node's blk*.dat files as one json document per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config.BlocksDir = args[0]
			if magicHex != "" {
				magic, err := hex.DecodeString(magicHex)
				if err != nil || len(magic) != 4 {
					return errors.Newf("magic must be 4 hex encoded bytes, got %q", magicHex)
				}
				config.Magic = magic
			}

			reader, err := chain.NewReader(config)
			if err != nil {
				return err
			}

			out := bufio.NewWriter(os.Stdout)
			defer out.Flush()

			var blocks, failed int
			reader.OnBlock(func(block chain.Block) error {
				logrus.Debugf("BLOCK %d (%s)", block.Height, block.Hash())
				b, err := blockjson.Marshal(&block)
				if err != nil {
					failed++
					logrus.Errorf("block %d: %+v", block.Height, err)
					return nil
				}
				blocks++
				if _, err := out.Write(append(b, '\n')); err != nil {
					return errors.Wrap(err, "writing output")
				}
				return nil
			})

			start := time.Now()
			if err := reader.Load(); err != nil {
				return err
			}
			if err := out.Flush(); err != nil {
				return errors.Wrap(err, "writing output")
			}
			logrus.Infof("dumped %d blocks in %s, %d could not be rendered", blocks, time.Since(start).Round(time.Millisecond), failed)
			return nil
		},
	}
	cmd.Flags().IntVar(&config.Workers, "workers", 1, "block files to read in parallel, when the blocks dir has an index")
	cmd.Flags().Uint64Var(&config.MaxHeight, "max-height", 0, "stop at this height (0 = no limit)")
	cmd.Flags().StringVar(&magicHex, "magic", hex.EncodeToString(chain.MainNetMagic), "network magic bytes, hex")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "serve the converter over http",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := server.Start(addr)
			logrus.Infof("listening on %s", addr)

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return errors.Wrap(srv.Shutdown(ctx), "shutting down")
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8855", "listen address")
	return cmd
}

func readInput(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(os.Stdin)
		return data, errors.Wrap(err, "reading stdin")
	}
	data, err := os.ReadFile(args[0])
	return data, errors.Wrap(err, "reading input")
}

// Command bbpcat opens a column-store farm directory and dumps its
// catalog, a thin consumer of the bbp Loader/BufferPool API built for
// inspecting a database image without linking the full DBMS.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	bbp "github.com/monetbbp/bbploader"
)

const version = "0.1.0"

var fastMode bool

func prettyPrint(v any) string {
	buff, err := json.Marshal(v)
	if err != nil {
		log.Printf("JSON marshal error: %v", err)
		return fmt.Sprintf("%v", v)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, buff, "", "\t"); err != nil {
		log.Printf("JSON indent error: %v", err)
		return string(buff)
	}
	return pretty.String()
}

type columnSummary struct {
	ID        bbp.BatID `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Count     uint64    `json:"count"`
	Sorted    bool      `json:"sorted"`
	Key       bool      `json:"key"`
	Dense     bool      `json:"dense"`
	Varsized  bool      `json:"varsized"`
	SeqBase   uint64    `json:"seqbase,omitempty"`
}

func dumpCatalog(cmd *cobra.Command, args []string) {
	farmDir := args[0]
	loader, err := bbp.Open(farmDir, &bbp.Options{Fast: fastMode})
	if err != nil {
		log.Printf("error opening %s: %v", farmDir, err)
		os.Exit(1)
	}
	defer loader.Close()

	var out []columnSummary
	for _, col := range loader.Pool.Columns() {
		out = append(out, columnSummary{
			ID:       col.ID,
			Name:     col.LogicalName,
			Type:     loader.Registry.NameOf(col.Type),
			Count:    col.Count,
			Sorted:   col.Sorted,
			Key:      col.Key,
			Dense:    col.Dense,
			Varsized: col.Varsized,
			SeqBase:  col.SeqBase,
		})
	}
	fmt.Println(prettyPrint(out))
}

func main() {
	var rootCmd = &cobra.Command{
		Use:   "bbpcat",
		Short: "A read-only BBP catalog dumper",
		Long:  "Loads a column-store database's BBP.dir and dumps its column catalog",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("bbpcat version " + version)
		},
	}

	var dumpCmd = &cobra.Command{
		Use:   "dump <farm-dir>",
		Short: "Dumps the column catalog of a farm directory",
		Args:  cobra.ExactArgs(1),
		Run:   dumpCatalog,
	}
	dumpCmd.Flags().BoolVarP(&fastMode, "fast", "f", false, "metadata only, skip heap materialization")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(dumpCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

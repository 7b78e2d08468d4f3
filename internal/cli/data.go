package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/rcliao/learnsync/internal/offline"
)

func init() {
	dataCmd := &cobra.Command{
		Use:   "data",
		Short: "Manage cached offline content",
		Long:  "Manage content cached for offline reading. Entries are addressed by type and id and stored under the key <type>_<id>.",
	}

	putCmd := &cobra.Command{
		Use:   "put [json]",
		Short: "Cache an entry (overwrites an existing one)",
		Long:  "Cache content for offline reading. The JSON value is a positional arg or stdin.",
		Run:   runDataPut,
	}
	putCmd.Flags().StringP("type", "t", "", "Content type (required), e.g. course")
	putCmd.Flags().StringP("id", "i", "", "Content id (required)")
	putCmd.MarkFlagRequired("type")
	putCmd.MarkFlagRequired("id")

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Fetch a cached entry",
		Run:   runDataGet,
	}
	getCmd.Flags().StringP("type", "t", "", "Content type (required)")
	getCmd.Flags().StringP("id", "i", "", "Content id (required)")
	getCmd.Flags().Bool("raw", false, "Print only the cached value")
	getCmd.MarkFlagRequired("type")
	getCmd.MarkFlagRequired("id")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List cached entries of one type",
		Run:   runDataList,
	}
	listCmd.Flags().StringP("type", "t", "", "Content type (required)")
	listCmd.Flags().Bool("ids-only", false, "Only output ids")
	listCmd.MarkFlagRequired("type")

	rmCmd := &cobra.Command{
		Use:   "rm",
		Short: "Remove a cached entry",
		Run:   runDataRm,
	}
	rmCmd.Flags().StringP("type", "t", "", "Content type (required)")
	rmCmd.Flags().StringP("id", "i", "", "Content id (required)")
	rmCmd.MarkFlagRequired("type")
	rmCmd.MarkFlagRequired("id")

	dataCmd.AddCommand(putCmd, getCmd, listCmd, rmCmd)
	RootCmd.AddCommand(dataCmd)
}

func runDataPut(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	id, _ := cmd.Flags().GetString("id")
	value := readJSON(args, "data put")

	e := openEngine(cmd.Context())
	defer closeEngine(e)

	if err := e.Cache().Put(cmd.Context(), typ, id, value); err != nil {
		exitErr("data put", err)
	}
	printJSON(cmd, map[string]any{"ok": true, "key": offline.Key(typ, id), "type": typ, "id": id})
}

func runDataGet(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	id, _ := cmd.Flags().GetString("id")
	raw, _ := cmd.Flags().GetBool("raw")

	e := openEngine(cmd.Context())
	defer closeEngine(e)

	data, err := e.Cache().Get(cmd.Context(), typ, id)
	if err != nil {
		exitErr("data get", err)
	}
	if raw {
		printJSON(cmd, data)
		return
	}
	printJSON(cmd, map[string]any{"key": offline.Key(typ, id), "type": typ, "id": id, "data": data})
}

func runDataList(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	e := openEngine(cmd.Context())
	defer closeEngine(e)

	if idsOnly {
		all, err := e.Cache().All(cmd.Context(), typ)
		if err != nil {
			exitErr("data list", err)
		}
		ids := make([]string, 0, len(all))
		for id := range all {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return
	}

	entries, err := e.Cache().Entries(cmd.Context(), typ)
	if err != nil {
		exitErr("data list", err)
	}
	printJSON(cmd, entries)
}

func runDataRm(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	id, _ := cmd.Flags().GetString("id")

	e := openEngine(cmd.Context())
	defer closeEngine(e)

	if err := e.Cache().Remove(cmd.Context(), typ, id); err != nil {
		exitErr("data rm", err)
	}
	printJSON(cmd, map[string]any{"ok": true, "key": offline.Key(typ, id)})
}

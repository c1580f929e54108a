package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func devicesCommand(v *viper.Viper, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List microphones and cameras",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(v, *configPath)
			if err != nil {
				return err
			}
			return listDevices(rt)
		},
	}
}

func listDevices(rt *env) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	opener, err := rt.newOpener()
	if err != nil {
		return err
	}
	defer opener.Close()

	inputs, err := opener.ListDevices()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "MICROPHONE\tID\tDEFAULT")
	for _, d := range inputs {
		def := ""
		if d.Default {
			def = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.Name, d.ID, def)
	}

	backend, err := rt.newBackend()
	if err != nil {
		return err
	}
	ids, err := backend.CameraIDs()
	if err != nil {
		rt.log.Warn().Err(err).Msg("Failed to list cameras")
		return nil
	}
	fmt.Fprintln(w, "\nCAMERA\tSTILL SIZES\t")
	for _, id := range ids {
		sizes, err := backend.StillSizes(id)
		if err != nil {
			fmt.Fprintf(w, "%s\terror: %v\t\n", id, err)
			continue
		}
		fmt.Fprintf(w, "%s\t%v\t\n", id, sizes)
	}
	return nil
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/nascimentoandre/download-surftomo-data/internal/config"
)

func newRootCommand() *cobra.Command {
	opts := config.DefaultRunOptions()

	rootCmd := &cobra.Command{
		Use:           "surftomo",
		Short:         "Download seismic data from FDSN servers, intended for surface wave tomography",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDownload(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	f := rootCmd.Flags()
	f.StringVar(&opts.Folder, "folder", "", "Path where the data will be saved")
	f.StringVar(&opts.T0, "t0", "", "Initial date string. Ex: 2010-10-01")
	f.StringVar(&opts.T1, "t1", "", "Final date string. Ex: 2020-12-31")
	f.IntVar(&opts.Preset, "preset", opts.Preset, "Time in seconds prior to origin time")
	f.IntVar(&opts.Offset, "offset", opts.Offset, "Time in seconds after origin time")
	f.StringVar(&opts.StaArea, "sta_area", "", "xmin/xmax/ymin/ymax. If not provided, defaults to Brazil")
	f.StringVar(&opts.EvArea, "ev_area", "", "(xmin/xmax/ymin/ymax). If not provided, defaults to the entire world")
	f.Float64Var(&opts.MinMag, "min_mag", opts.MinMag, "Minimum magnitude")
	f.Float64Var(&opts.MinEpi, "min_epi", opts.MinEpi, "Minimum source-receiver distance in degrees")
	f.Float64Var(&opts.MaxDepth, "max_depth", opts.MaxDepth, "Maximum hypocentral depth in km")
	f.StringVar(&opts.PreFilt, "pre_filt", opts.PreFilt, "Pre filter used for removing instrument response. Example: '0.001,0.004,2,3'")
	f.BoolVar(&opts.Auth, "auth", false, "Authenticate against USP. Requires a credentials file")
	f.BoolVar(&opts.HorComp, "hor_comp", false, "Keep horizontal components in the query")
	f.StringVar(&opts.FDSNServers, "fdsn_servers", opts.FDSNServers, "Comma-separated FDSN servers from which data will be retrieved")
	f.StringVar(&opts.Credentials, "credentials", "", "Credentials file, username and password on two lines (default: credentials next to the folder)")
	f.StringVar(&opts.Report, "report", "", "Run report path (default: <folder>/report.json)")

	for _, name := range []string{"folder", "t0", "t1"} {
		_ = rootCmd.MarkFlagRequired(name)
	}

	return rootCmd
}

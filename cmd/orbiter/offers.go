package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cuemby/orbiter/pkg/config"
	"github.com/cuemby/orbiter/pkg/offer"
	"github.com/cuemby/orbiter/pkg/types"
	"github.com/spf13/cobra"
)

var offersCmd = &cobra.Command{
	Use:   "offers",
	Short: "List ranked compute offers across configured backends for a given resource requirement",
	RunE:  runOffers,
}

func init() {
	offersCmd.Flags().Float64("cpus", 1, "Minimum vCPUs required")
	offersCmd.Flags().Int64("memory-gb", 4, "Minimum memory required, in GiB")
	offersCmd.Flags().Int("gpu-count", 0, "Minimum GPU count required")
	offersCmd.Flags().String("gpu-name", "", "Required GPU model (empty = any)")
	offersCmd.Flags().Bool("spot", false, "Only list spot/preemptible offers (default: spot and on-demand)")
	offersCmd.Flags().StringSlice("backend", nil, "Restrict to these backend IDs (default: all configured)")
}

func runOffers(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sm, err := buildSecretsManager()
	if err != nil {
		return fmt.Errorf("build secrets manager: %w", err)
	}

	registry, err := buildRegistry(context.Background(), cfg.Backends, sm)
	if err != nil {
		return fmt.Errorf("build backend registry: %w", err)
	}

	cpus, _ := cmd.Flags().GetFloat64("cpus")
	memoryGB, _ := cmd.Flags().GetInt64("memory-gb")
	gpuCount, _ := cmd.Flags().GetInt("gpu-count")
	gpuName, _ := cmd.Flags().GetString("gpu-name")
	spot, _ := cmd.Flags().GetBool("spot")
	backendFilter, _ := cmd.Flags().GetStringSlice("backend")

	backendIDs := backendFilter
	if len(backendIDs) == 0 {
		for _, bc := range cfg.Backends {
			backendIDs = append(backendIDs, bc.ID)
		}
	}

	req := types.Requirements{
		CPUs:        cpus,
		MemoryBytes: memoryGB << 30,
		GPUCount:    gpuCount,
		GPUName:     gpuName,
	}
	if spot {
		req.Spot = types.SpotPolicySpot
	}

	engine := offer.New(registry)
	offers, err := engine.Get(backendIDs, req)
	if err != nil {
		return fmt.Errorf("get offers: %w", err)
	}
	if len(offers) == 0 {
		fmt.Println("no matching offers")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "BACKEND\tREGION\tTYPE\tCPUS\tMEMORY(GB)\tGPU\tSPOT\t$/HR\tAVAILABILITY")
	for _, o := range offers {
		gpu := o.GPUName
		if o.GPUCount > 0 {
			gpu = fmt.Sprintf("%dx%s", o.GPUCount, o.GPUName)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1f\t%.1f\t%s\t%t\t%.4f\t%s\n",
			o.BackendID, o.Region, o.InstanceTypeName, o.CPUs,
			float64(o.MemoryBytes)/(1<<30), gpu, o.Spot, o.PricePerHour, o.Availability)
	}
	return w.Flush()
}

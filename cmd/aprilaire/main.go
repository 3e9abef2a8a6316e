package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "aprilaire",
	Short: "Aprilaire Thermostat Control CLI",
	Long:  `A command line interface for monitoring and controlling Aprilaire home-automation-capable thermostats.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/aedpos-network/aedpos/consensus"
	"github.com/aedpos-network/aedpos/lib"
	"github.com/aedpos-network/aedpos/store"
)

var (
	dataDir string

	rootCmd = &cobra.Command{Use: "aedpos", Short: "aedpos is a round based consensus scheduler"}

	initCmd = &cobra.Command{
		Use:   "init",
		Short: "write a default config.json and a genesis.json template to the data directory",
		Run: func(cmd *cobra.Command, args []string) {
			InitDataDirectory()
		},
	}

	genesisCmd = &cobra.Command{
		Use:   "genesis",
		Short: "initialize the round store from genesis.json",
		Run: func(cmd *cobra.Command, args []string) {
			Genesis()
		},
	}

	roundCmd = &cobra.Command{
		Use:   "round [number]",
		Short: "print the current (or a retained historical) round as JSON",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			PrintRound(args)
		},
	}

	pruneCmd = &cobra.Command{
		Use:   "prune <floor>",
		Short: "drop retained rounds below the floor, keeping round 1",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			Prune(args[0])
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", lib.DefaultDataDirPath(), "the directory holding the config and the database")
	rootCmd.AddCommand(initCmd, genesisCmd, roundCmd, pruneCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

// GenesisFile is the on-disk description of the initial miner list
type GenesisFile struct {
	StartTime uint64         `json:"startTime"` // unix ms the chain starts at
	Miners    []lib.HexBytes `json:"miners"`    // the initial miner public keys
}

// InitDataDirectory() writes the default config and a genesis template, refusing to overwrite
func InitDataDirectory() {
	l := lib.NewDefaultLogger()
	if err := os.MkdirAll(dataDir, os.ModePerm); err != nil {
		l.Fatal(err.Error())
	}
	configPath := filepath.Join(dataDir, lib.ConfigFilePath)
	if _, err := os.Stat(configPath); err == nil {
		l.Fatalf("refusing to overwrite %s", configPath)
	}
	c := lib.DefaultConfig()
	c.DataDirPath = dataDir
	if err := c.WriteToFile(configPath); err != nil {
		l.Fatal(err.Error())
	}
	if err := lib.SaveJSONToFile(&GenesisFile{}, dataDir, lib.GenesisFilePath); err != nil {
		l.Fatal(err.Error())
	}
	l.Infof("initialized data directory at %s", dataDir)
}

// Genesis() builds and commits round 1 from the genesis file
func Genesis() {
	c, l := loadConfig()
	genesis := new(GenesisFile)
	if err := lib.NewJSONFromFile(genesis, dataDir, lib.GenesisFilePath); err != nil {
		l.Fatal(err.Error())
	}
	db := openStore(c, l)
	defer func() { _ = db.Close() }()
	engine := consensus.New(c, db, nil, nil, nil, l)
	if err := engine.Genesis(genesis.Miners, genesis.StartTime); err != nil {
		l.Fatal(err.Error())
	}
}

// PrintRound() dumps a committed round snapshot
func PrintRound(args []string) {
	c, l := loadConfig()
	db := openStore(c, l)
	defer func() { _ = db.Close() }()
	var (
		round *consensus.Round
		err   lib.ErrorI
	)
	if len(args) == 1 {
		n, e := strconv.ParseUint(args[0], 10, 64)
		if e != nil {
			l.Fatal(e.Error())
		}
		round, err = db.GetRound(n)
	} else {
		round, err = db.GetCurrentRound()
	}
	if err != nil {
		l.Fatal(err.Error())
	}
	bz, err := lib.MarshalJSONIndent(round)
	if err != nil {
		l.Fatal(err.Error())
	}
	fmt.Println(string(bz))
}

// Prune() drops retained rounds below the floor
func Prune(arg string) {
	c, l := loadConfig()
	floor, e := strconv.ParseUint(arg, 10, 64)
	if e != nil {
		l.Fatal(e.Error())
	}
	db := openStore(c, l)
	defer func() { _ = db.Close() }()
	if err := db.PruneBefore(floor); err != nil {
		l.Fatal(err.Error())
	}
	l.Infof("pruned retained rounds below %d", floor)
}

func loadConfig() (lib.Config, lib.LoggerI) {
	c, err := lib.NewConfigFromFile(filepath.Join(dataDir, lib.ConfigFilePath))
	if err != nil {
		log.Fatal(err.Error())
	}
	c.DataDirPath = dataDir
	return c, lib.NewLogger(c.GetLoggerConfig(), dataDir)
}

func openStore(c lib.Config, l lib.LoggerI) *store.Store {
	db, err := store.New(c, l)
	if err != nil {
		l.Fatal(err.Error())
	}
	return db
}

package main

import "staking-reward-ledger/cmd"

func main() {
	cmd.Execute()
}

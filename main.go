package main

import "github.com/CraigKelly/automix/cmd"

// TODO: checkpointing for chains (so we can freeze and continue) - which means
//       the sampler state, mixtures and adaptation clocks all need saving

func main() {
	cmd.Execute()
}

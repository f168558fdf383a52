package main

import (
	"github.com/posener/complete/v2"
	"github.com/posener/complete/v2/predict"
)

// completer drives shell-completion for clover's flat flag set (no
// subcommands), following the shape of inoxlang/inox's cli_completion.go
// but scaled down to spec.md §6.2's flags plus input files.
var completer = &complete.Command{
	Flags: map[string]complete.Predictor{
		"d": predict.Nothing,
		"x": predict.Nothing,
		"s": predict.Nothing,
		"h": predict.Nothing,
		"v": predict.Nothing,
	},
	Args: predict.Files("*.clvr"),
}

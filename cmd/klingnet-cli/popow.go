package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/Klingon-tech/klingnet-chain/pkg/popow"
)

func cmdPoPoW(args []string) {
	if len(args) < 1 {
		fatal("Usage: klingnet-cli popow <decode|validate|id> [flags]")
	}

	switch args[0] {
	case "decode":
		cmdPoPoWDecode(args[1:])
	case "validate":
		cmdPoPoWValidate(args[1:])
	case "id":
		cmdPoPoWID(args[1:])
	default:
		fatal("Unknown popow command: %s\nUsage: klingnet-cli popow <decode|validate|id> [flags]", args[0])
	}
}

func cmdPoPoWDecode(args []string) {
	fs := flag.NewFlagSet("popow decode", flag.ExitOnError)
	file := fs.String("file", "", "Path to an encoded proof")
	fs.Parse(args)

	proof := loadProofFile(*file)

	fmt.Printf("m: %d\n", proof.M)
	fmt.Printf("k: %d\n", proof.K)
	fmt.Printf("prefix length: %d\n", len(proof.Prefix))
	fmt.Printf("suffix length: %d\n", len(proof.Suffix))
	if proof.SizeOpt != nil {
		fmt.Printf("size: %d bytes\n", *proof.SizeOpt)
	}
	if len(proof.Prefix) > 0 {
		fmt.Printf("prefix head: %s\n", proof.Prefix[0].ID())
		fmt.Printf("prefix tail: %s\n", proof.Prefix[len(proof.Prefix)-1].ID())
	}
	if len(proof.Suffix) > 0 {
		fmt.Printf("suffix tip: %s\n", proof.Suffix[len(proof.Suffix)-1].ID())
	}
}

func cmdPoPoWValidate(args []string) {
	fs := flag.NewFlagSet("popow validate", flag.ExitOnError)
	file := fs.String("file", "", "Path to an encoded proof")
	fs.Parse(args)

	proof := loadProofFile(*file)
	if err := proof.Validate(); err != nil {
		fatal("proof is invalid: %v", err)
	}
	fmt.Println("proof is valid")
}

func cmdPoPoWID(args []string) {
	fs := flag.NewFlagSet("popow id", flag.ExitOnError)
	file := fs.String("file", "", "Path to an encoded proof")
	fs.Parse(args)

	proof := loadProofFile(*file)
	if len(proof.Suffix) == 0 {
		fatal("proof has an empty suffix, no tip header to identify")
	}
	tip := proof.Suffix[len(proof.Suffix)-1]
	fmt.Println(tip.ID().String())
}

func loadProofFile(path string) *popow.Proof {
	if path == "" {
		fatal("--file is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		fatal("read proof file: %v", err)
	}
	data, err := hex.DecodeString(string(trimNewline(raw)))
	if err != nil {
		// Not hex-encoded; treat the file contents as the raw wire bytes.
		data = raw
	}
	proof, err := popow.Decode(data)
	if err != nil {
		fatal("decode proof: %v", err)
	}
	return proof
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

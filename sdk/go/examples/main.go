package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"PNCT-Query/sdk/go/pnct"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "pnctd API address")
	async := flag.Bool("async", false, "submit in the background and poll for the result")
	flag.Parse()

	question := "Is CSQU3054383 available for pickup?"
	if flag.NArg() > 0 {
		question = flag.Arg(0)
	}

	client, err := pnct.NewClient(*addr, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var res pnct.Result
	if *async {
		rec, err := client.Submit(ctx, "", question)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("submitted query %s\n", rec.Query.ID)
		res, err = client.WaitForResult(ctx, rec.Query.ID, time.Second)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	} else {
		res, err = client.Ask(ctx, "", question)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	fmt.Printf("[%s] %s\n", res.Status, res.Answer)
	for _, tr := range res.ToolResults {
		fmt.Printf("  %s %s %s\n", tr.CallID, tr.Name, tr.Status)
	}
}

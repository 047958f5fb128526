package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"SonicPilot/sdk/go/sonicpilot"
)

// 一个极简的命令行对话：按提示输入选项序号或自定义值。
func main() {
	baseURL := os.Getenv("SONICPILOT_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	flow := "research"
	if len(os.Args) > 1 {
		flow = os.Args[1]
	}

	client, err := sonicpilot.NewClient(baseURL, nil, sonicpilot.Identity{
		UserID:   os.Getenv("SONICPILOT_USER"),
		UserName: os.Getenv("SONICPILOT_NAME"),
		WalletID: os.Getenv("SONICPILOT_WALLET"),
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	reply, err := client.Current(ctx, flow)
	in := bufio.NewScanner(os.Stdin)
	for err == nil {
		fmt.Println(reply.Message)
		if reply.Prompt != "" {
			fmt.Println(reply.Prompt)
		}
		if reply.Terminal() {
			return
		}
		for i, opt := range reply.Options {
			fmt.Printf("  [%d] %s\n", i+1, opt.Label)
		}
		fmt.Print("> ")
		if !in.Scan() {
			return
		}
		reply, err = answer(ctx, client, in, flow, reply, strings.TrimSpace(in.Text()))
	}
	log.Fatal(err)
}

func answer(ctx context.Context, client *sonicpilot.Client, in *bufio.Scanner, flow string, reply sonicpilot.Reply, input string) (sonicpilot.Reply, error) {
	var idx int
	if _, err := fmt.Sscanf(input, "%d", &idx); err == nil && idx >= 1 && idx <= len(reply.Options) {
		opt := reply.Options[idx-1]
		if !opt.Custom {
			return client.Choose(ctx, flow, opt)
		}
		fmt.Printf("%s: ", opt.Label)
		in.Scan()
		return client.Act(ctx, flow, opt.Action, map[string]string{opt.Field: strings.TrimSpace(in.Text())})
	}
	for _, opt := range reply.Options {
		if opt.Custom {
			return client.Act(ctx, flow, opt.Action, map[string]string{opt.Field: input})
		}
	}
	return client.Current(ctx, flow)
}

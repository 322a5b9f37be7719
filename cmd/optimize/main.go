package main

// Run one bullet optimization end to end against OpenAI:
//   go run ./cmd/optimize -job "Front End Software Engineer ..."

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"optimizer-backend/internal/extract"
	openai "optimizer-backend/internal/llm/openai"
	"optimizer-backend/internal/shared/config"
	"optimizer-backend/internal/workflow"
)

func main() {
	cfg := config.Load()

	job := flag.String("job", "", "Target job description")
	resumePath := flag.String("resume", "", "Path to resume file for context (pdf, docx, or txt; optional)")
	bullets := flag.Int("bullets", workflow.DefaultBulletCount, "Number of bullet points to generate")
	maxIterations := flag.Int("max-iterations", workflow.DefaultMaxIterations, "Iteration cap before forced acceptance")
	model := flag.String("model", cfg.LLMModel, "LLM model")
	flag.Parse()

	if strings.TrimSpace(*job) == "" {
		exitErr("job is required")
	}

	client, err := openai.NewClient(os.Getenv("OPENAI_API_KEY"), *model)
	if err != nil {
		exitErr(err.Error())
	}

	resumeContext := ""
	if strings.TrimSpace(*resumePath) != "" {
		data, err := os.ReadFile(*resumePath)
		if err != nil {
			exitErr(fmt.Sprintf("read resume: %v", err))
		}
		text, err := extract.ExtractTextFromBytes(context.Background(), data, "", *resumePath)
		if err != nil {
			exitErr(fmt.Sprintf("extract resume text: %v", err))
		}
		resumeContext = text
	}

	divider := strings.Repeat("=", 80)
	fmt.Println("\n" + divider)
	fmt.Println("RESUME BULLET POINT OPTIMIZER")
	fmt.Println(divider)
	fmt.Printf("\nOptimizing bullet points for: %s\n\n", *job)

	controller := &workflow.Controller{
		Generator:     client,
		Evaluator:     client,
		MaxIterations: *maxIterations,
		BulletCount:   *bullets,
	}

	result, err := controller.Run(context.Background(), *job, resumeContext)
	if err != nil {
		exitErr(err.Error())
	}

	printResult(result, divider)
}

func printResult(result workflow.Result, divider string) {
	state := result.State

	fmt.Println("\n" + divider)
	fmt.Println("FINAL OPTIMIZED EXPERIENCE\n" + divider)

	fmt.Println("\nComplete Experience:")
	fmt.Println(state.RawOutput)

	fmt.Println("\nBullet Points:")
	for i, bp := range state.Bullets {
		fmt.Printf("%s %d. %s\n", gradeIcon(state.Grades[i]), i+1, bp)
	}

	fmt.Println("\nEvaluation Details:")
	for i, g := range state.Grades {
		fmt.Printf("Bullet %d: %s\n", i+1, strings.ToUpper(string(g)))
		if state.Feedback[i] != "" {
			fmt.Printf("   Feedback: %s\n", state.Feedback[i])
		}
	}

	fmt.Println("\nWord Count Analysis:")
	for i, bp := range state.Bullets {
		wordCount := len(strings.Fields(bp))
		status := "length not ideal"
		if wordCount >= 25 && wordCount <= 35 {
			status = "good length"
		}
		fmt.Printf("Bullet %d: %d words - %s\n", i+1, wordCount, status)
	}

	if len(result.History) > 1 {
		printJourney(result.History, divider)
	}

	if result.Forced {
		fmt.Printf("\nAccepted after hitting the iteration cap (%d cycles).\n", state.Iteration)
	}
}

func printJourney(history []workflow.HistoryEntry, divider string) {
	fmt.Println("\n" + divider)
	fmt.Println("OPTIMIZATION JOURNEY\n" + divider)
	fmt.Printf("Total Iterations: %d\n\n", len(history))

	first := history[0]
	last := history[len(history)-1]
	total := len(first.Grades)
	fmt.Printf("Initial Pass Rate: %d/%d bullet points\n", passCount(first.Grades), total)
	fmt.Printf("Final Pass Rate: %d/%d bullet points\n", passCount(last.Grades), total)

	fmt.Println("\nBullet Point Evolution:")
	for bulletNum := 0; bulletNum < total; bulletNum++ {
		fmt.Printf("\nBullet #%d Evolution:\n", bulletNum+1)
		for idx, entry := range history {
			// Skip iterations where this bullet was unchanged.
			if idx > 0 && entry.Bullets[bulletNum] == history[idx-1].Bullets[bulletNum] {
				continue
			}
			bullet := entry.Bullets[bulletNum]
			fmt.Printf("  Iteration %d: %s [%d words]\n", entry.Iteration, gradeIcon(entry.Grades[bulletNum]), len(strings.Fields(bullet)))
			fmt.Printf("  %s\n", bullet)
			if entry.Grades[bulletNum] == workflow.GradeFail && entry.Feedback[bulletNum] != "" {
				fmt.Printf("  Feedback: %s\n", entry.Feedback[bulletNum])
			}
			fmt.Println()
		}
	}
}

func passCount(grades []workflow.Grade) int {
	count := 0
	for _, g := range grades {
		if g == workflow.GradePass {
			count++
		}
	}
	return count
}

func gradeIcon(g workflow.Grade) string {
	switch g {
	case workflow.GradePass:
		return "[pass]"
	case workflow.GradeFail:
		return "[fail]"
	default:
		return "[....]"
	}
}

func exitErr(msg string) {
	fmt.Fprintln(os.Stderr, "error: "+msg)
	os.Exit(1)
}

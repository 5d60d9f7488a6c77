package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shihuaidexianyu/PKU-Get/internal/app"
	"github.com/shihuaidexianyu/PKU-Get/internal/entity"
)

func main() {
	cfgFileName := flag.String("c", "config.yml", "Path to config file")
	coursesFileName := flag.String("courses", "courses.json", "Path to resolved course list")
	flag.Parse()

	courses, err := loadCourses(*coursesFileName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot load courses: %s\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-c
		fmt.Println("Received termination signal. Finishing in-flight work...")
		cancel()
	}()

	a := app.New(*cfgFileName, nil, func(p entity.SyncProgress) {
		if p.FileName != "" && p.FileFraction > 0 {
			fmt.Printf("\r[%d/%d] %s: %s %.0f%%        ",
				p.CourseIndex, p.TotalCourses, p.CourseName, p.FileName, p.FileFraction*100)
		}
	})

	rep := a.Run(ctx, courses)

	fmt.Printf("\n%s: downloaded %d, skipped %d, failed %d, notifications %d\n",
		rep.Status, rep.Summary.Downloaded, rep.Summary.Skipped,
		rep.Summary.Failed, rep.Summary.NotificationsNew)

	if rep.Status != entity.ReportSuccess {
		os.Exit(2)
	}
}

// loadCourses reads the resolved course list produced by the course-selection
// tooling; selection, aliases and flatten are already decided there.
func loadCourses(path string) ([]entity.Course, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var courses []entity.Course
	if err := json.Unmarshal(data, &courses); err != nil {
		return nil, err
	}

	return courses, nil
}

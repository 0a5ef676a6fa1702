package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/CraigKelly/automix/model"
)

// ListExamples writes a description of every built in catalog: its models,
// their dimensions and, when known, the exact model probabilities.
func ListExamples(w io.Writer) error {
	for _, name := range model.ExampleNames() {
		cat, err := model.NewExample(name)
		if err != nil {
			return err
		}

		dims := make([]string, cat.ModelCount())
		for k := range dims {
			dims[k] = fmt.Sprint(cat.Dimension(k))
		}
		fmt.Fprintf(w, "%-8s models:%d dims:[%s]\n", name, cat.ModelCount(), strings.Join(dims, " "))

		if ex, ok := cat.(model.Exact); ok {
			fmt.Fprintf(w, "%-8s exact:%8.5f\n", "", ex.ModelProbs())
		}
	}
	return nil
}

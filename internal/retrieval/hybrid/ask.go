package hybrid

import (
	"context"
	"fmt"
	"strings"

	"github.com/todomyday/recall/internal/retrieval/model"
	"github.com/todomyday/recall/internal/retrieval/rerr"
	"github.com/todomyday/recall/internal/retrieval/telemetry"
)

// Ask retrieves the top-K context documents for the question, assembles a
// bounded context window and delegates answer generation to the answer
// provider. The returned sources are exactly the documents packed into the
// window, in rank order.
func (o *Orchestrator) Ask(ctx context.Context, ownerID, question string) (*Answer, error) {
	telemetry.SearchesTotal.WithLabelValues("ask").Inc()
	if o.answerer == nil {
		return nil, rerr.Configuration("ask: no answer provider configured")
	}
	if strings.TrimSpace(question) == "" {
		return nil, rerr.Validation("ask: question is required")
	}

	results, err := o.Search(ctx, Params{
		OwnerID: ownerID,
		Query:   question,
		Limit:   o.cfg.AskTopK,
	})
	if err != nil {
		return nil, err
	}

	sources := assembleContext(results, o.cfg.ContextBudget)
	answer, err := o.answerer.Answer(ctx, question, sources)
	if err != nil {
		return nil, rerr.Wrap(rerr.KindExternal, err, "ask: answer generation failed")
	}
	return &Answer{Answer: answer, Sources: sources}, nil
}

// assembleContext keeps documents in rank order until the character budget is
// spent, dropping lowest-ranked documents first. A single over-budget
// document at the head is truncated rather than dropped so the window is
// never empty when results exist.
func assembleContext(results []model.SearchResult, budget int) []model.Document {
	var sources []model.Document
	used := 0
	for _, r := range results {
		doc := r.Document
		cost := len(doc.Title) + len(doc.Body)
		if used+cost > budget {
			if len(sources) == 0 && budget > len(doc.Title) {
				doc.Body = doc.Body[:budget-len(doc.Title)]
				sources = append(sources, doc)
			}
			break
		}
		used += cost
		sources = append(sources, doc)
	}
	return sources
}

// ProviderAnswerer adapts a chat-completion provider into an AnswerProvider
// with an explicit retrieval-augmented prompt.
type ProviderAnswerer struct {
	Complete func(ctx context.Context, system, user string) (string, error)
}

const answerSystemPrompt = `You answer questions using only the user's own notes provided as sources.
Cite which source supports each claim by its number. If the sources do not
contain the answer, say so plainly instead of guessing.`

func (a *ProviderAnswerer) Answer(ctx context.Context, question string, sources []model.Document) (string, error) {
	var b strings.Builder
	b.WriteString("QUESTION:\n")
	b.WriteString(question)
	b.WriteString("\n\nSOURCES:\n")
	if len(sources) == 0 {
		b.WriteString("(none found)\n")
	}
	for i, src := range sources {
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, src.Title, src.Body)
	}
	return a.Complete(ctx, answerSystemPrompt, b.String())
}

package linker

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/smartlink/anchor"
	"github.com/hazyhaar/smartlink/dbopen"
)

func newTestService(t *testing.T, cfg *Config) *Service {
	t.Helper()
	db := dbopen.OpenMemory(t)
	svc, err := New(db, cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func putDoc(t *testing.T, svc *Service, id, content string) {
	t.Helper()
	if err := svc.PutDocument(context.Background(), &Document{ID: id, Content: content}); err != nil {
		t.Fatalf("put document: %v", err)
	}
}

func TestApplyAndRemove(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	source := "<p>Visit our store today for deals.</p>"
	putDoc(t, svc, "d1", source)

	link, err := svc.Apply(ctx, &anchor.Link{
		SourceID: "d1", DestinationID: "d2", Text: "store", Href: "/shop",
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if link.UID == "" || !link.Applied() {
		t.Fatalf("link after apply: %+v", link)
	}

	doc, err := svc.Document(ctx, "d1")
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	want := `<p>Visit our <a data-smartlink="` + link.UID + `" href="/shop">store</a> today for deals.</p>`
	if doc.Content != want {
		t.Errorf("content:\n got %s\nwant %s", doc.Content, want)
	}

	got, err := svc.Links(ctx, "d1", anchor.StatusApplied)
	if err != nil || len(got) != 1 {
		t.Fatalf("applied links: %v, %v", got, err)
	}

	if err := svc.Remove(ctx, link.UID, false); err != nil {
		t.Fatalf("remove: %v", err)
	}
	doc, _ = svc.Document(ctx, "d1")
	if doc.Content != source {
		t.Errorf("content after remove:\n got %s\nwant %s", doc.Content, source)
	}
	got, _ = svc.Links(ctx, "d1", "")
	if len(got) != 0 {
		t.Errorf("registry after remove: %+v", got)
	}
}

func TestApply_Guards(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	putDoc(t, svc, "d1", "<p>one store two deals</p>")

	if _, err := svc.Apply(ctx, &anchor.Link{SourceID: "missing", Text: "store", Href: "/x"}); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("missing document: %v", err)
	}
	if _, err := svc.Apply(ctx, &anchor.Link{SourceID: "d1", DestinationID: "d1", Text: "store", Href: "/x"}); !errors.Is(err, ErrSelfLink) {
		t.Errorf("self link: %v", err)
	}

	first, err := svc.Apply(ctx, &anchor.Link{SourceID: "d1", DestinationID: "d2", Text: "store", Href: "/x"})
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if _, err := svc.Apply(ctx, &anchor.Link{UID: first.UID, SourceID: "d1", DestinationID: "d2", Text: "store", Href: "/x"}); !errors.Is(err, ErrAlreadyApplied) {
		t.Errorf("already applied: %v", err)
	}
	if _, err := svc.Apply(ctx, &anchor.Link{SourceID: "d1", DestinationID: "d2", Text: "deals", Href: "/y"}); !errors.Is(err, ErrDuplicateLink) {
		t.Errorf("duplicate destination: %v", err)
	}
}

func TestApply_DuplicatesAllowedByConfig(t *testing.T) {
	svc := newTestService(t, &Config{AllowDuplicateLinks: true})
	ctx := context.Background()
	putDoc(t, svc, "d1", "<p>one store two deals</p>")

	if _, err := svc.Apply(ctx, &anchor.Link{SourceID: "d1", DestinationID: "d2", Text: "store", Href: "/x"}); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if _, err := svc.Apply(ctx, &anchor.Link{SourceID: "d1", DestinationID: "d2", Text: "deals", Href: "/y"}); err != nil {
		t.Fatalf("second apply: %v", err)
	}
}

func TestApply_FailureRollsBack(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	source := "<p>nothing to see</p>"
	putDoc(t, svc, "d1", source)

	_, err := svc.Apply(ctx, &anchor.Link{SourceID: "d1", Text: "absent", Href: "/x"})
	if !errors.Is(err, anchor.ErrTextNotFound) {
		t.Fatalf("expected ErrTextNotFound, got %v", err)
	}

	doc, _ := svc.Document(ctx, "d1")
	if doc.Content != source {
		t.Errorf("content changed: %s", doc.Content)
	}
	links, _ := svc.Links(ctx, "d1", "")
	if len(links) != 0 {
		t.Errorf("registry row leaked: %+v", links)
	}
}

func TestUpdateText_Atomic(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	putDoc(t, svc, "d1", "<p>Visit our store today for deals.</p>")

	link, err := svc.Apply(ctx, &anchor.Link{SourceID: "d1", DestinationID: "d2", Text: "store", Href: "/shop"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	applied, _ := svc.Document(ctx, "d1")

	// Moving to text that does not exist fails and leaves everything as it
	// was: anchor still in place, registry row untouched.
	if _, err := svc.UpdateText(ctx, link.UID, "missing", 0); !errors.Is(err, anchor.ErrTextNotFound) {
		t.Fatalf("expected ErrTextNotFound, got %v", err)
	}
	doc, _ := svc.Document(ctx, "d1")
	if doc.Content != applied.Content {
		t.Errorf("content changed on failed update:\n got %s\nwant %s", doc.Content, applied.Content)
	}
	if got, _ := svc.Links(ctx, "d1", anchor.StatusApplied); len(got) != 1 || got[0].UID != link.UID {
		t.Errorf("registry after failed update: %+v", got)
	}

	updated, err := svc.UpdateText(ctx, link.UID, "deals", 0)
	if err != nil {
		t.Fatalf("update text: %v", err)
	}
	if updated.UID == link.UID {
		t.Error("uid unchanged despite new text")
	}
	doc, _ = svc.Document(ctx, "d1")
	if !strings.Contains(doc.Content, `href="/shop">deals</a>`) {
		t.Errorf("anchor not moved: %s", doc.Content)
	}
	if strings.Contains(doc.Content, ">store</a>") {
		t.Errorf("old anchor survived: %s", doc.Content)
	}
	got, _ := svc.Links(ctx, "d1", "")
	if len(got) != 1 || got[0].UID != updated.UID {
		t.Errorf("registry after update: %+v", got)
	}
}

func TestRemove_RestoresReplacedLink(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	source := `<p>See <a href="A" class="x">Example</a> now.</p>`
	putDoc(t, svc, "d1", source)

	link, err := svc.Apply(ctx, &anchor.Link{SourceID: "d1", DestinationID: "d2", Text: "Example", Href: "B"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	replaced, err := svc.DidReplaceLink(ctx, link.UID)
	if err != nil || !replaced {
		t.Fatalf("DidReplaceLink: %v, %v", replaced, err)
	}

	if err := svc.Remove(ctx, link.UID, true); err != nil {
		t.Fatalf("remove: %v", err)
	}
	doc, _ := svc.Document(ctx, "d1")
	if doc.Content != source {
		t.Errorf("original link not restored:\n got %s\nwant %s", doc.Content, source)
	}
}

func TestRemove_UnknownLink(t *testing.T) {
	svc := newTestService(t, nil)

	if err := svc.Remove(context.Background(), "nope", false); !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("expected ErrLinkNotFound, got %v", err)
	}
}

func TestSuggestions_SweepsStale(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	putDoc(t, svc, "d1", "<p>alpha store</p>\n<p>beta deals</p>")

	if _, err := svc.SaveSuggestion(ctx, &anchor.Link{SourceID: "d1", DestinationID: "x1", Text: "deals", Href: "/d"}); err != nil {
		t.Fatalf("save suggestion: %v", err)
	}
	if _, err := svc.SaveSuggestion(ctx, &anchor.Link{SourceID: "d1", DestinationID: "x2", Text: "store", Href: "/s"}); err != nil {
		t.Fatalf("save suggestion: %v", err)
	}
	if _, err := svc.SaveSuggestion(ctx, &anchor.Link{SourceID: "d1", DestinationID: "x3", Text: "gone", Href: "/g"}); err != nil {
		t.Fatalf("save suggestion: %v", err)
	}

	got, err := svc.Suggestions(ctx, "d1")
	if err != nil {
		t.Fatalf("suggestions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("suggestions: %+v", got)
	}
	// Sorted by document position: "store" in the first block first.
	if got[0].Text != "store" || got[1].Text != "deals" {
		t.Errorf("order: %s, %s", got[0].Text, got[1].Text)
	}
	for _, l := range got {
		if l.Match == nil {
			t.Errorf("suggestion %s has no match", l.Text)
		}
	}

	// The stale suggestion was dropped from the registry too.
	all, _ := svc.Links(ctx, "d1", "")
	if len(all) != 2 {
		t.Errorf("registry after sweep: %+v", all)
	}
}

func TestPendingCountAndDiscard(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	putDoc(t, svc, "d1", "<p>store deals</p>")

	for _, l := range []*anchor.Link{
		{SourceID: "d1", DestinationID: "dst", Text: "store", Href: "/a"},
		{SourceID: "d1", DestinationID: "dst", Text: "deals", Href: "/b"},
	} {
		if _, err := svc.SaveSuggestion(ctx, l); err != nil {
			t.Fatalf("save suggestion: %v", err)
		}
	}

	n, err := svc.PendingCount(ctx, "dst")
	if err != nil || n != 2 {
		t.Fatalf("pending count: %d, %v", n, err)
	}

	removed, err := svc.DiscardPending(ctx, "dst")
	if err != nil || removed != 2 {
		t.Fatalf("discard: %d, %v", removed, err)
	}
	n, _ = svc.PendingCount(ctx, "dst")
	if n != 0 {
		t.Errorf("pending after discard: %d", n)
	}
}

func TestInbound(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	putDoc(t, svc, "d1", "<p>our store</p>")

	link, err := svc.Apply(ctx, &anchor.Link{SourceID: "d1", DestinationID: "dst", Text: "store", Href: "/dst"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	inbound, err := svc.Inbound(ctx, "dst", anchor.StatusApplied)
	if err != nil {
		t.Fatalf("inbound: %v", err)
	}
	if len(inbound) != 1 || inbound[0].UID != link.UID {
		t.Errorf("inbound: %+v", inbound)
	}
}

func TestPreview(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	putDoc(t, svc, "d1", "<p>intro</p>\n<p>Visit our store today.</p>\n<p>outro</p>")

	link, err := svc.Apply(ctx, &anchor.Link{SourceID: "d1", DestinationID: "d2", Text: "store", Href: "/shop"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	p, err := svc.Preview(ctx, link.UID)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if p.IsFirst || p.IsLast {
		t.Errorf("position flags: first=%v last=%v", p.IsFirst, p.IsLast)
	}
	if !strings.Contains(p.Paragraph, "data-smartlink") {
		t.Errorf("paragraph: %s", p.Paragraph)
	}
	if !strings.Contains(p.Markdown, "[store](/shop)") {
		t.Errorf("markdown: %s", p.Markdown)
	}
	if p.Original != "<p>Visit our store today.</p>" {
		t.Errorf("original paragraph: %s", p.Original)
	}

	if _, err := svc.Preview(ctx, "missing"); !errors.Is(err, ErrLinkNotFound) {
		t.Errorf("missing preview: %v", err)
	}
}

func TestUpdateText_PendingLink(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	putDoc(t, svc, "d1", "<p>store deals</p>")

	link, err := svc.SaveSuggestion(ctx, &anchor.Link{SourceID: "d1", DestinationID: "d2", Text: "store", Href: "/s"})
	if err != nil {
		t.Fatalf("save suggestion: %v", err)
	}

	updated, err := svc.UpdateText(ctx, link.UID, "deals", 0)
	if err != nil {
		t.Fatalf("update text: %v", err)
	}
	if updated.Applied() {
		t.Error("pending link became applied")
	}
	if got, _ := svc.Links(ctx, "d1", ""); len(got) != 1 || got[0].Text != "deals" {
		t.Errorf("registry: %+v", got)
	}
}

func TestApply_RejectsHrefAlreadyInContent(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	source := `<p>Existing <a href="/shop">link</a> here.</p><p>Visit our store today.</p>`
	putDoc(t, svc, "d1", source)

	link := &anchor.Link{SourceID: "d1", DestinationID: "d2", Text: "store", Href: "/shop"}
	if err := svc.HasValidPlacement(ctx, link, false); !errors.Is(err, ErrDuplicateLink) {
		t.Fatalf("validate: err = %v, want ErrDuplicateLink", err)
	}
	if _, err := svc.Apply(ctx, link); !errors.Is(err, ErrDuplicateLink) {
		t.Fatalf("apply: err = %v, want ErrDuplicateLink", err)
	}
	if doc, _ := svc.Document(ctx, "d1"); doc.Content != source {
		t.Errorf("content changed: %s", doc.Content)
	}

	// The guard fires on content alone, with no destination to pair-check.
	bare := &anchor.Link{SourceID: "d1", Text: "store", Href: "/shop"}
	if err := svc.HasValidPlacement(ctx, bare, false); !errors.Is(err, ErrDuplicateLink) {
		t.Fatalf("validate without destination: err = %v, want ErrDuplicateLink", err)
	}

	// The per-call override lifts it.
	if err := svc.HasValidPlacement(ctx, link, true); err != nil {
		t.Fatalf("validate with override: %v", err)
	}

	// So does the config flag, for Apply too.
	relaxed := newTestService(t, &Config{AllowDuplicateLinks: true})
	putDoc(t, relaxed, "d1", source)
	if _, err := relaxed.Apply(ctx, &anchor.Link{SourceID: "d1", DestinationID: "d2", Text: "store", Href: "/shop"}); err != nil {
		t.Fatalf("apply with duplicates allowed: %v", err)
	}
}

func TestApply_RejectsPermalinkSelfLink(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	doc := &Document{
		ID:        "d1",
		Permalink: "https://example.com/guide",
		Content:   "<p>Visit our store today.</p>",
	}
	if err := svc.PutDocument(ctx, doc); err != nil {
		t.Fatalf("put document: %v", err)
	}

	link := &anchor.Link{SourceID: "d1", Text: "store", Href: "https://example.com/guide"}
	if _, err := svc.Apply(ctx, link); !errors.Is(err, ErrSelfLink) {
		t.Fatalf("apply: err = %v, want ErrSelfLink", err)
	}
	if err := svc.HasValidPlacement(ctx, link, false); !errors.Is(err, ErrSelfLink) {
		t.Fatalf("validate: err = %v, want ErrSelfLink", err)
	}

	other := &anchor.Link{SourceID: "d1", DestinationID: "d2", Text: "store", Href: "https://example.com/other"}
	if err := svc.HasValidPlacement(ctx, other, false); err != nil {
		t.Fatalf("validate other href: %v", err)
	}
}

func TestRestoreRevision(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	source := "<p>Visit our store today for deals.</p>"
	putDoc(t, svc, "d1", source)

	link, err := svc.Apply(ctx, &anchor.Link{SourceID: "d1", DestinationID: "d2", Text: "store", Href: "/shop"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	doc, err := svc.RestoreRevision(ctx, "d1")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if doc.Content != source {
		t.Errorf("content:\n got %s\nwant %s", doc.Content, source)
	}
	if stored, _ := svc.Document(ctx, "d1"); stored.Content != source {
		t.Errorf("stored content: %s", stored.Content)
	}

	// The applied row is demoted to a pending suggestion.
	pending, err := svc.Links(ctx, "d1", anchor.StatusPending)
	if err != nil || len(pending) != 1 || pending[0].UID != link.UID {
		t.Fatalf("pending after restore: %+v, %v", pending, err)
	}
	if applied, _ := svc.Links(ctx, "d1", anchor.StatusApplied); len(applied) != 0 {
		t.Fatalf("applied after restore: %+v", applied)
	}

	// The demoted suggestion places cleanly again.
	got, err := svc.Suggestions(ctx, "d1")
	if err != nil || len(got) != 1 {
		t.Fatalf("suggestions after restore: %+v, %v", got, err)
	}

	// Nothing to rewind on an untouched document.
	putDoc(t, svc, "d2", "<p>fresh</p>")
	if _, err := svc.RestoreRevision(ctx, "d2"); !errors.Is(err, ErrNoRevision) {
		t.Fatalf("restore fresh document: err = %v, want ErrNoRevision", err)
	}
	if _, err := svc.RestoreRevision(ctx, "missing"); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("restore missing document: err = %v, want ErrDocumentNotFound", err)
	}
}

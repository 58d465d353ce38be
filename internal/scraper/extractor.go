package scraper

import (
	"encoding/json"
	"fmt"
)

// minContentChars is the text length a content container needs before it is
// preferred over the whole body.
const minContentChars = 200

// contentSelectors are tried in order; the first one holding enough text wins.
var contentSelectors = []string{
	"main article",
	"article",
	"main",
	"[role=main]",
	".devsite-article-body",
	".markdown-body",
	".theme-doc-markdown",
	".rst-content",
	".documentation",
	".docs-content",
	".doc-content",
	"#content",
	".content",
}

// stripSelectors remove navigation, chrome and ads from the chosen container.
var stripSelectors = []string{
	"script",
	"style",
	"noscript",
	"template",
	"iframe",
	"svg",
	"nav",
	"header",
	"footer",
	"aside",
	"form",
	"button",
	"[role=navigation]",
	"[role=banner]",
	"[role=contentinfo]",
	"[role=complementary]",
	"[aria-hidden=true]",
	".sidebar",
	".toc",
	".breadcrumb",
	".breadcrumbs",
	".pagination",
	".advertisement",
	".ads",
	".ad",
	".banner",
	".cookie-banner",
	".announcement",
	".feedback",
	"devsite-header",
	"devsite-footer-linkboxes",
	"devsite-book-nav",
}

// extractScript is injected by the browser engines. It mirrors extractDocument
// and returns its result as a JSON string so both engines decode it the same way.
var extractScript = buildExtractScript()

func buildExtractScript() string {
	content, _ := json.Marshal(contentSelectors)
	strip, _ := json.Marshal(stripSelectors)
	return fmt.Sprintf(`() => {
  const contentSelectors = %s;
  const stripSelectors = %s;
  let root = null;
  for (const sel of contentSelectors) {
    const el = document.querySelector(sel);
    if (el && (el.textContent || '').trim().length >= %d) {
      root = el;
      break;
    }
  }
  if (!root) {
    root = document.body || document.documentElement;
  }
  const clone = root.cloneNode(true);
  clone.querySelectorAll(stripSelectors.join(',')).forEach((n) => n.remove());
  const text = (clone.textContent || '').replace(/\s+/g, ' ').trim();
  const seen = new Set();
  const links = [];
  document.querySelectorAll('a[href]').forEach((a) => {
    const raw = (a.getAttribute('href') || '').trim();
    if (!raw || raw.startsWith('#') || /^(javascript|mailto):/i.test(raw)) {
      return;
    }
    const href = a.href;
    if (!/^https?:/i.test(href) || seen.has(href)) {
      return;
    }
    seen.add(href);
    links.push(href);
  });
  return JSON.stringify({
    title: document.title || '',
    text: text,
    html: clone.innerHTML || '',
    links: links,
  });
}`, content, strip, minContentChars)
}

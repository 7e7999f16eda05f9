package handlers

import (
	"embed"
	"html"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/russross/blackfriday/v2"
)

//go:embed docs/*.md
var docFiles embed.FS

type DocsHandler struct {
	files embed.FS
}

func NewDocsHandler() *DocsHandler {
	return &DocsHandler{files: docFiles}
}

// Only these documents are served
var allowedDocs = map[string]string{
	"API":        "docs/API.md",
	"OPERATIONS": "docs/OPERATIONS.md",
}

// ServeMarkdownAsHTML serves the bundled Markdown docs as HTML
func (h *DocsHandler) ServeMarkdownAsHTML(c *gin.Context) {
	docName := strings.ToUpper(c.Param("doc"))
	if docName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Document name required"})
		return
	}

	fileName, exists := allowedDocs[docName]
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return
	}

	content, err := h.files.ReadFile(fileName)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return
	}

	extensions := blackfriday.CommonExtensions | blackfriday.AutoHeadingIDs
	renderer := blackfriday.NewHTMLRenderer(blackfriday.HTMLRendererParameters{
		Flags: blackfriday.CommonHTMLFlags,
	})
	htmlContent := blackfriday.Run(content, blackfriday.WithRenderer(renderer), blackfriday.WithExtensions(extensions))

	page := h.wrapWithTheme(string(htmlContent), getDocumentTitle(docName))
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, page)
}

// getDocumentTitle returns a human-readable title for the document
func getDocumentTitle(docName string) string {
	titles := map[string]string{
		"API":        "Ledger API",
		"OPERATIONS": "Operations Guide",
	}

	if title, exists := titles[docName]; exists {
		return title
	}
	return strings.ReplaceAll(docName, "_", " ")
}

// wrapWithTheme wraps the HTML content with consistent styling
func (h *DocsHandler) wrapWithTheme(content, title string) string {
	title = html.EscapeString(title)
	return `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>` + title + ` - Memoir Ledger</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            line-height: 1.6;
            color: #333;
            background: #f8f9fa;
            padding: 20px;
        }

        .container {
            max-width: 1000px;
            margin: 0 auto;
        }

        .content {
            background: white;
            padding: 3rem;
            border-radius: 12px;
            border: 1px solid #e5e7eb;
        }

        .content h2 {
            color: #2563eb;
        }

        .content pre, .content code {
            background: #f3f4f6;
            border-radius: 4px;
            font-family: 'Monaco', 'Menlo', 'Ubuntu Mono', monospace;
            font-size: 0.9rem;
        }

        .content pre {
            padding: 1rem;
            overflow-x: auto;
        }

        .content table {
            width: 100%;
            border-collapse: collapse;
        }

        .content th, .content td {
            border: 1px solid #d1d5db;
            padding: 0.5rem;
            text-align: left;
        }
    </style>
</head>
<body>
    <div class="container">
        <div class="content">
            ` + content + `
        </div>
    </div>
</body>
</html>`
}

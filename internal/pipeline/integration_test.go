package pipeline_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/shopspring/decimal"

	"github.com/zombor/bill-ledger/internal/ledger"
	"github.com/zombor/bill-ledger/internal/pipeline"
	"github.com/zombor/bill-ledger/internal/record"
	"github.com/zombor/bill-ledger/internal/report"
)

// fakeExtractor reads "DOC ISSUER DATE TOTAL" straight from the file content
type fakeExtractor struct{}

func (fakeExtractor) Extract(ctx context.Context, data []byte, contentType string) (*record.Record, error) {
	var doc, issuer, date, total string
	if _, err := fmt.Sscanf(string(data), "%s %s %s %s", &doc, &issuer, &date, &total); err != nil {
		return nil, fmt.Errorf("unreadable bill: %w", err)
	}
	issued, err := record.ParseDate(date)
	if err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(total)
	if err != nil {
		return nil, err
	}
	return &record.Record{
		DocType:        record.DocTypeReceipt,
		DocNumber:      doc,
		IssueDate:      issued,
		Currency:       "EUR",
		IssuerName:     issuer,
		IssuerTaxID:    "VAT-" + issuer,
		SubtotalAmount: &amount,
		TotalAmount:    &amount,
	}, nil
}

func (fakeExtractor) Close() error {
	return nil
}

var _ = Describe("Integration", func() {
	var (
		tempDir  string
		inbox    string
		archive  *pipeline.BoltDB
		storage  *pipeline.LocalStorage
		store    *ledger.Store
		service  *pipeline.Service
		server   *pipeline.Server
		ghServer *ghttp.Server
	)

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()
		inbox = filepath.Join(tempDir, "bills")

		var err error
		archive, err = pipeline.NewBoltDB(filepath.Join(tempDir, "archive.db"))
		Expect(err).NotTo(HaveOccurred())
		storage, err = pipeline.NewLocalStorage(inbox)
		Expect(err).NotTo(HaveOccurred())
		store = ledger.NewStore(filepath.Join(tempDir, "database.csv"))

		schema := filepath.Join(tempDir, "data_model.csv")
		Expect(os.WriteFile(schema, []byte("Field\nsource_filename\nissue_date\nissuer_name\ncurrency\ntotal_amount\n"), 0644)).To(Succeed())

		for name, content := range map[string]string{
			"jan.jpg":        "R-1 Acme 2024-01-05 120.00",
			"feb.pdf":        "R-2 Bolt 2024-02-11 80.50",
			"unreadable.png": "???",
		} {
			Expect(os.WriteFile(filepath.Join(inbox, name), []byte(content), 0644)).To(Succeed())
		}

		service = pipeline.NewService(archive, fakeExtractor{}, storage, store, pipeline.Config{
			SchemaPath:  schema,
			ReportsDir:  filepath.Join(tempDir, "reports"),
			Concurrency: 2,
		})
		server = pipeline.NewServer(service, pipeline.BasicAuth{})
		ghServer = ghttp.NewServer()
	})

	AfterEach(func() {
		if ghServer != nil {
			ghServer.Close()
		}
		if archive != nil {
			archive.Close()
		}
	})

	It("should ingest the inbox, accept an upload and report on both", func() {
		// --- Step 1: batch ingest ---
		run, err := service.Ingest(context.Background(), 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Extracted).To(Equal(2))
		Expect(run.Failed).To(Equal([]string{"unreadable.png"}))
		Expect(run.Merge.Accepted).To(Equal(2))

		// --- Step 2: upload over HTTP ---
		ghServer.AppendHandlers(server.ServeHTTP, server.ServeHTTP)

		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", "march.jpg")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write([]byte("R-3 Acme 2024-03-20 42.50"))
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		req, err := http.NewRequest(http.MethodPost, ghServer.URL()+"/api/bills", body)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", writer.FormDataContentType())
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		Expect(filepath.Join(inbox, "march.jpg")).To(BeAnExistingFile())

		// --- Step 3: fetch the report ---
		reportResp, err := http.Get(ghServer.URL() + "/report")
		Expect(err).NotTo(HaveOccurred())
		defer reportResp.Body.Close()
		Expect(reportResp.StatusCode).To(Equal(http.StatusOK))
		markdown, err := io.ReadAll(reportResp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(markdown)).To(ContainSubstring("243.00 EUR"))
		Expect(string(markdown)).To(ContainSubstring("**Acme**: 162.50 EUR"))

		Expect(filepath.Join(tempDir, "reports", report.ChartFile)).To(BeAnExistingFile())
		Expect(filepath.Join(tempDir, "reports", report.WorkbookFile)).To(BeAnExistingFile())

		// --- Step 4: rerunning merges nothing new ---
		run, err = service.Ingest(context.Background(), 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Files).To(Equal(1))
		Expect(run.Merge.Accepted).To(BeZero())

		run, err = service.Consolidate(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(run.Merge.Accepted).To(BeZero())
		Expect(run.Merge.Duplicates).To(Equal(3))

		rows, err := store.ReadRows()
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(3))
		Expect(rows[2]["source_filename"]).To(Equal("march.jpg"))
	})
})

package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/bill-ledger/internal/record"
)

var _ = Describe("Ollama", func() {
	var (
		server    *ghttp.Server
		extractor *Ollama
		rec       *record.Record
		err       error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		extractor, err = NewOllama(server.URL()+"/", "llava")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		rec, err = extractor.Extract(context.Background(), []byte("fake png bytes"), "image/png")
	})

	When("the model answers with a bill", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				ghttp.VerifyContentType("application/json"),
				func(w http.ResponseWriter, r *http.Request) {
					body, readErr := io.ReadAll(r.Body)
					Expect(readErr).NotTo(HaveOccurred())
					var req ollamaChatRequest
					Expect(json.Unmarshal(body, &req)).To(Succeed())
					Expect(req.Model).To(Equal("llava"))
					Expect(req.Stream).To(BeFalse())
					Expect(req.Messages).To(HaveLen(2))
					Expect(req.Messages[1].Images).To(HaveLen(1))
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
					Done: true,
					Message: ollamaMessage{
						Role:    "assistant",
						Content: `{"doc_type":"receipt","doc_number":"R-9","issue_date":"2024-05-01","currency":"usd","issuer_name":"Cafe","issuer_tax_id":"T1","subtotal_amount":3,"total_amount":3.5}`,
					},
				}),
			))
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("returns the extracted record", func() {
			Expect(rec.DocNumber).To(Equal("R-9"))
			Expect(rec.Currency).To(Equal("USD"))
			Expect(rec.TotalAmount.String()).To(Equal("3.5"))
		})

		It("calls the chat API once", func() {
			Expect(server.ReceivedRequests()).To(HaveLen(1))
		})
	})

	When("the API returns an error status", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not loaded"))
		})

		It("returns the error with the body", func() {
			Expect(err).To(MatchError(ContainSubstring("status 500")))
			Expect(err).To(MatchError(ContainSubstring("model not loaded")))
		})
	})

	When("the model answers with something other than JSON", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
				Message: ollamaMessage{Role: "assistant", Content: "I cannot read this image."},
			}))
		})

		It("returns a parse error", func() {
			Expect(err).To(MatchError(ContainSubstring("parsing bill data")))
		})
	})
})

var _ = Describe("prepareImageData", func() {
	It("passes PNG through untouched", func() {
		data, err := prepareImageData([]byte("already png"), "image/png")
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal([]byte("already png")))
	})

	It("converts JPEG to PNG", func() {
		img := image.NewRGBA(image.Rect(0, 0, 4, 4))
		img.Set(1, 1, color.White)
		var buf bytes.Buffer
		Expect(jpeg.Encode(&buf, img, nil)).To(Succeed())

		data, err := prepareImageData(buf.Bytes(), " Image/JPEG ")
		Expect(err).NotTo(HaveOccurred())
		Expect(data[:4]).To(Equal([]byte("\x89PNG")))
	})

	It("rejects unknown formats", func() {
		_, err := prepareImageData([]byte("not an image"), "image/jpeg")
		Expect(err).To(MatchError(ContainSubstring("unsupported image format")))
	})
})

var _ = Describe("ContentTypeForName", func() {
	It("maps known extensions", func() {
		Expect(ContentTypeForName("bill_001.JPG")).To(Equal("image/jpeg"))
		Expect(ContentTypeForName("scan.pdf")).To(Equal("application/pdf"))
		Expect(ContentTypeForName("photo.heic")).To(Equal("image/heic"))
	})

	It("ignores other files", func() {
		Expect(IsSupported("notes.txt")).To(BeFalse())
		Expect(IsSupported(".DS_Store")).To(BeFalse())
	})
})
